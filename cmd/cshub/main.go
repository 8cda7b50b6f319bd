package main

import (
	"github.com/alecthomas/kong"
)

var cli struct {
	EnvFile string `name:"env-file" default:".env" type:"path" help:"Load environment variables from this file when it exists."`

	Serve      ServeCmd      `cmd:"" help:"Run the HTTP server."`
	RefreshAll RefreshAllCmd `cmd:"" name:"refresh-all" help:"Refresh every stored agency token that has expired."`
	Sync       SyncCmd       `cmd:"" help:"Sync location profiles for a company."`
	RotateKeys RotateKeysCmd `cmd:"" name:"rotate-keys" help:"Re-encrypt stored tokens under the active key."`
	Keyring    KeyringCmd    `cmd:"" help:"Manage encryption key rings."`
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("cshub"),
		kong.Description("OAuth token service for platform agency and location tokens."),
		kong.UsageOnError(),
	)
	err := ctx.Run(&Context{EnvFile: cli.EnvFile})
	ctx.FatalIfErrorf(err)
}
