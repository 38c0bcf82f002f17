// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package db

// Built-in network servers.
const (
	MainNet  = "main.everos.dev"
	DevNet   = "net.everos.dev"
	LocalNet = "localhost:7777"
)

// DefaultNetworks are the networks stored in a new vault.
func DefaultNetworks() []*Network {
	return []*Network{
		{
			ID:       1,
			Name:     "Main",
			Server:   MainNet,
			Explorer: "https://ever.live",
			Endpoints: []string{
				"https://eri01.main.everos.dev",
				"https://gra01.main.everos.dev",
				"https://gra02.main.everos.dev",
				"https://lim01.main.everos.dev",
				"https://rbx01.main.everos.dev",
			},
			CoinName: "EVER",
		},
		{
			ID:       2,
			Name:     "Test",
			Server:   DevNet,
			Explorer: "https://net.ever.live",
			Endpoints: []string{
				"https://eri01.net.everos.dev",
				"https://rbx01.net.everos.dev",
				"https://gra01.net.everos.dev",
			},
			Test:     true,
			CoinName: "RUBY",
		},
		{
			ID:        3,
			Name:      "Local",
			Server:    LocalNet,
			Explorer:  "http://localhost:7777/graphql",
			Endpoints: []string{"http://localhost:7777"},
			Test:      true,
			Giver:     "0:b5e9240fc2d2f1ff8cbb1d1dee7fb7cae155e5f6320e585fcc685698994a19a5",
			CoinName:  "MOONROCK",
		},
	}
}
