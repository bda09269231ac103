package routers

import (
	"context"
	"sort"

	"market-platform/src/command"
	sm "market-platform/src/standard_models"
)

// Build returns the command tree served by the platform.
func Build() *command.Router {
	root := command.NewRouter("")
	root.IncludeRouter(equity())
	root.IncludeRouter(crypto())
	root.IncludeRouter(currency())
	root.IncludeRouter(coverage(root))
	return root
}

// -----------------------------------------------------------------------------

func equity() *command.Router {
	price := command.NewRouter("price")
	price.Command(command.CommandOptions{
		Name:        "historical",
		Model:       sm.EquityHistorical,
		Description: "Get historical price data for a given stock.",
		Examples:    []string{"symbol=AAPL", "symbol=AAPL&interval=1h&provider=yfinance"},
	}, command.QueryHandler)
	price.Command(command.CommandOptions{
		Name:        "quote",
		Model:       sm.EquityQuote,
		Description: "Get the latest quote for a given stock.",
		Examples:    []string{"symbol=AAPL"},
	}, command.QueryHandler)

	r := command.NewRouter("equity")
	r.IncludeRouter(price)
	return r
}

// -----------------------------------------------------------------------------

func crypto() *command.Router {
	price := command.NewRouter("price")
	price.Command(command.CommandOptions{
		Name:        "historical",
		Model:       sm.CryptoHistorical,
		Description: "Get historical price data for a cryptocurrency pair.",
		Examples:    []string{"symbol=BTCUSDT&provider=binance"},
	}, command.QueryHandler)
	price.Command(command.CommandOptions{
		Name:        "live",
		Model:       sm.WebSocketConnection,
		Description: "Open a supervised websocket feed and return its connection handle.",
		Examples:    []string{"symbol=BTCUSDT&name=btc&provider=binance"},
	}, command.QueryHandler)

	r := command.NewRouter("crypto")
	r.IncludeRouter(price)
	return r
}

// -----------------------------------------------------------------------------

func currency() *command.Router {
	price := command.NewRouter("price")
	price.Command(command.CommandOptions{
		Name:        "historical",
		Model:       sm.CurrencyHistorical,
		Description: "Get historical price data for a currency pair.",
		Examples:    []string{"symbol=EURUSD"},
	}, command.QueryHandler)

	r := command.NewRouter("currency")
	r.IncludeRouter(price)
	return r
}

// -----------------------------------------------------------------------------

// ProviderCoverage is one row of /coverage/providers.
type ProviderCoverage struct {
	Provider    string   `json:"provider"`
	Description string   `json:"description,omitempty"`
	Website     string   `json:"website,omitempty"`
	Credentials []string `json:"credentials"`
	Models      []string `json:"models"`
}

// CommandCoverage is one row of /coverage/commands.
type CommandCoverage struct {
	Path      string   `json:"path"`
	Model     string   `json:"model"`
	Providers []string `json:"providers"`
}

func coverage(root *command.Router) *command.Router {
	r := command.NewRouter("coverage")
	r.Command(command.CommandOptions{
		Name:        "providers",
		Description: "List the installed providers and the models each implements.",
	}, func(ctx context.Context, cc *command.CommandContext, _ map[string]any) (any, error) {
		var out []ProviderCoverage
		for _, name := range cc.Registry.Names() {
			p, _ := cc.Registry.Get(name)
			creds := append([]string{}, p.Credentials...)
			out = append(out, ProviderCoverage{
				Provider:    p.Name,
				Description: p.Description,
				Website:     p.Website,
				Credentials: creds,
				Models:      p.Models(),
			})
		}
		return out, nil
	})
	r.Command(command.CommandOptions{
		Name:        "commands",
		Description: "List the standard commands and the providers that serve each.",
	}, func(ctx context.Context, cc *command.CommandContext, _ map[string]any) (any, error) {
		cmds, err := root.Commands()
		if err != nil {
			return nil, err
		}
		paths := make([]string, 0, len(cmds))
		for p, c := range cmds {
			if c.IsStandard() {
				paths = append(paths, p)
			}
		}
		sort.Strings(paths)

		out := make([]CommandCoverage, 0, len(paths))
		for _, p := range paths {
			model := cmds[p].Model()
			out = append(out, CommandCoverage{Path: p, Model: model, Providers: cc.Map.ProvidersFor(model)})
		}
		return out, nil
	})
	return r
}
