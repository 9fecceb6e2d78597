package inventory

import "strings"

// DisplayName builds a stable account display name. It falls back to the
// account id when there is no alias and always ends with "-<accountID>".
func DisplayName(alias, accountID string) string {
	name := strings.TrimSpace(alias)
	if name == "" {
		name = accountID
	}
	if !strings.HasSuffix(name, "-"+accountID) {
		name = name + "-" + accountID
	}
	return name
}
