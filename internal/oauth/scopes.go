package oauth

import "fmt"

// ScopeMode is a named, preset bundle of upstream permission scopes.
type ScopeMode string

const (
	ScopeModeMinimal  ScopeMode = "minimal"
	ScopeModeStandard ScopeMode = "standard"
	ScopeModeFull     ScopeMode = "full"
	ScopeModeReadonly ScopeMode = "readonly"

	// DefaultScopeMode applies when no mode is configured or requested.
	DefaultScopeMode = ScopeModeStandard
)

const googleScopePrefix = "https://www.googleapis.com/auth/"

var scopeSets = map[ScopeMode][]string{
	ScopeModeMinimal: {
		googleScopePrefix + "spreadsheets",
		googleScopePrefix + "drive.file",
	},
	ScopeModeStandard: {
		googleScopePrefix + "spreadsheets",
		googleScopePrefix + "drive.file",
		googleScopePrefix + "drive.appdata",
	},
	ScopeModeFull: {
		googleScopePrefix + "spreadsheets",
		googleScopePrefix + "drive",
		googleScopePrefix + "drive.file",
		googleScopePrefix + "drive.appdata",
		googleScopePrefix + "bigquery",
		googleScopePrefix + "cloud-platform",
		googleScopePrefix + "script.projects",
		googleScopePrefix + "script.external_request",
	},
	ScopeModeReadonly: {
		googleScopePrefix + "spreadsheets.readonly",
		googleScopePrefix + "drive.readonly",
	},
}

// ScopeModes lists the recognised modes in a stable order.
func ScopeModes() []ScopeMode {
	return []ScopeMode{ScopeModeMinimal, ScopeModeStandard, ScopeModeFull, ScopeModeReadonly}
}

// ParseScopeMode resolves a configured or requested mode name. The empty
// string resolves to DefaultScopeMode.
func ParseScopeMode(name string) (ScopeMode, error) {
	if name == "" {
		return DefaultScopeMode, nil
	}
	mode := ScopeMode(name)
	if _, ok := scopeSets[mode]; !ok {
		return "", newError(KindUnknownScopeMode, fmt.Sprintf("unknown scope mode %q", name), nil)
	}
	return mode, nil
}

// Scopes returns the ordered scope list for the mode. The returned slice is a
// copy and may be modified by the caller. An unrecognised mode yields nil.
func (m ScopeMode) Scopes() []string {
	set := scopeSets[m]
	if set == nil {
		return nil
	}
	out := make([]string, len(set))
	copy(out, set)
	return out
}

// ShortScope strips the Google scope URL prefix for display.
func ShortScope(scope string) string {
	if len(scope) > len(googleScopePrefix) && scope[:len(googleScopePrefix)] == googleScopePrefix {
		return scope[len(googleScopePrefix):]
	}
	return scope
}

// identityScopes are requested alongside a mode when the provider must name
// the consenting account in an ID token. They never count as granted
// permissions.
func identityScopes() []string {
	return []string{"openid", "email"}
}

func isIdentityScope(scope string) bool {
	switch scope {
	case "openid", "email", "profile",
		googleScopePrefix + "userinfo.email",
		googleScopePrefix + "userinfo.profile":
		return true
	}
	return false
}

// withoutIdentityScopes returns the permission scopes of a granted list.
func withoutIdentityScopes(scopes []string) []string {
	var out []string
	for _, s := range scopes {
		if !isIdentityScope(s) {
			out = append(out, s)
		}
	}
	return out
}
