// ABOUTME: Authentication flow strategies selecting storage keys and endpoint paths
// ABOUTME: One implementation serves both the full and the lightweight flow

package auth

import "fmt"

// StorageKeys names the CredentialStore keys a TokenManager uses.
// The names are persisted and must stay stable across releases.
type StorageKeys struct {
	AccessToken  string
	RefreshToken string
	TokenExpiry  string
	UserData     string
}

// Strategy selects the flavour of the authentication flow.
type Strategy struct {
	Name     string
	AuthPath string
	Keys     StorageKeys
}

var (
	// FullStrategy is the canonical flow.
	FullStrategy = Strategy{
		Name:     "full",
		AuthPath: "/auth",
		Keys: StorageKeys{
			AccessToken:  "coven.auth.accessToken",
			RefreshToken: "coven.auth.refreshToken",
			TokenExpiry:  "coven.auth.tokenExpiry",
			UserData:     "coven.auth.userData",
		},
	}

	// SimpleStrategy is the lightweight flow with its own keys and base path.
	SimpleStrategy = Strategy{
		Name:     "simple",
		AuthPath: "/simple-auth",
		Keys: StorageKeys{
			AccessToken:  "coven.simpleAuth.accessToken",
			RefreshToken: "coven.simpleAuth.refreshToken",
			TokenExpiry:  "coven.simpleAuth.tokenExpiry",
			UserData:     "coven.simpleAuth.userData",
		},
	}
)

// StrategyByName returns the strategy for "full" (or "") and "simple".
func StrategyByName(name string) (Strategy, error) {
	switch name {
	case "", FullStrategy.Name:
		return FullStrategy, nil
	case SimpleStrategy.Name:
		return SimpleStrategy, nil
	default:
		return Strategy{}, fmt.Errorf("unknown auth variant %q (want full or simple)", name)
	}
}
