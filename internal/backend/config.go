package backend

import (
	"fmt"

	"feeledger/internal/config"
)

// FromAppConfig converts the application config to register config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	registerType := RegisterType(appConfig.RegisterBackend)
	if !registerType.IsValid() {
		return Config{}, fmt.Errorf("invalid register type in config: %s", appConfig.RegisterBackend)
	}

	return Config{
		Type: registerType,

		GoogleSpreadsheetID:     appConfig.GoogleSpreadsheetID,
		GoogleRegisterSheetName: appConfig.GoogleRegisterSheetName,
		HasCredentials: appConfig.GoogleServiceAccountJSON != "" ||
			appConfig.GoogleServiceAccountFile != "" ||
			appConfig.GoogleApplicationCredentials != "",
	}, nil
}

// Validate validates the register configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid register type: %s", c.Type)
	}

	switch c.Type {
	case SheetsRegister:
		if c.GoogleSpreadsheetID == "" {
			return fmt.Errorf("Google Spreadsheet ID is required for sheets register")
		}
		if c.GoogleRegisterSheetName == "" {
			return fmt.Errorf("Google register sheet name is required for sheets register")
		}
		if !c.HasCredentials {
			return fmt.Errorf("service account credentials are required for sheets register")
		}

	case MemoryRegister:
		// Memory register doesn't require additional validation
	}

	return nil
}

// GetRegisterTypes returns all valid register types
func GetRegisterTypes() []RegisterType {
	return []RegisterType{SheetsRegister, MemoryRegister}
}

// GetRegisterTypeStrings returns all valid register type strings
func GetRegisterTypeStrings() []string {
	types := GetRegisterTypes()
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = t.String()
	}
	return out
}
