package routine

import (
	"fmt"
	"maps"
	"strings"
)

// Well known configuration keys. Unknown keys are ignored by routines.
const (
	KeyUsername         = "username"
	KeyPassword         = "password"
	KeyEnvironment      = "environment"
	KeyTenantCode       = "tenant_code"
	KeyToken            = "token"
	KeyPostAPIURL       = "post_api_url"
	KeySecondaryAPIURL  = "secondary_api_url"
	KeyAttrKeys         = "attr_keys"
	KeyUseFarmerID      = "use_farmer_id"
	KeyForceCropAudited = "force_crop_audited"
	KeyUnit             = "unit"
)

// Config is the free-form configuration a routine runs with, usually decoded
// from the JSON sent by the browser.
type Config map[string]any

func (c Config) Clone() Config {
	return maps.Clone(c)
}

// String returns the value of key as a trimmed string, "" if missing.
func (c Config) String(key string) string {
	v, ok := c[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

// URL returns the value of key without a trailing slash or fallback when
// the key is empty.
func (c Config) URL(key, fallback string) string {
	u := c.String(key)
	if u == "" {
		u = fallback
	}
	return strings.TrimRight(u, "/")
}

// Strings returns a list value. A JSON array and a comma separated string
// are both accepted; empty items are kept, so positions stay meaningful.
func (c Config) Strings(key string) []string {
	switch v := c[key].(type) {
	case []string:
		return v
	case []any:
		ret := make([]string, 0, len(v))
		for _, x := range v {
			if x == nil {
				ret = append(ret, "")
				continue
			}
			ret = append(ret, strings.TrimSpace(fmt.Sprint(x)))
		}
		return ret
	case string:
		if strings.TrimSpace(v) == "" {
			return nil
		}
		parts := strings.Split(v, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	default:
		return nil
	}
}

// Flag is true for JSON true and for "yes", "true", "y" and "1".
func (c Config) Flag(key string) bool {
	switch v := c[key].(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "yes", "y", "true", "1":
			return true
		}
	}
	return false
}
