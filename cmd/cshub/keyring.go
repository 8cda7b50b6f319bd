package main

import (
	"fmt"
	"os"

	"github.com/revittco/cshub/internal/secrets"
)

// KeyringCmd groups key ring maintenance.
type KeyringCmd struct {
	Generate KeyringGenerateCmd `cmd:"" help:"Print a new version:base64key ring entry."`
	Seal     KeyringSealCmd     `cmd:"" help:"Encrypt a key ring file for one or more age recipients."`
}

// KeyringGenerateCmd prints a fresh key.
type KeyringGenerateCmd struct {
	Version string `required:"" help:"Version tag for the new key, e.g. v2."`
}

func (k *KeyringGenerateCmd) Run(_ *Context) error {
	entry, err := secrets.GenerateKey(k.Version)
	if err != nil {
		return err
	}
	fmt.Println(entry)
	return nil
}

// KeyringSealCmd writes an age-armored copy of a plaintext key ring file.
type KeyringSealCmd struct {
	In        string   `required:"" type:"existingfile" help:"Plaintext key ring YAML."`
	Out       string   `help:"Output path. Defaults to stdout."`
	Recipient []string `help:"age recipient (age1...). Repeatable."`
	Identity  string   `type:"existingfile" help:"Seal for the recipient of this age identity file."`
}

func (k *KeyringSealCmd) Run(_ *Context) error {
	recipients := k.Recipient
	if k.Identity != "" {
		r, err := secrets.ReadIdentityRecipient(k.Identity)
		if err != nil {
			return err
		}
		recipients = append(recipients, r)
	}
	if len(recipients) == 0 {
		return fmt.Errorf("at least one --recipient or --identity is required")
	}

	plain, err := os.ReadFile(k.In)
	if err != nil {
		return err
	}
	// Parse before sealing so a broken ring never gets locked away.
	if _, _, err := secrets.ParseKeyRingFile(plain); err != nil {
		return err
	}

	if k.Out == "" {
		return secrets.SealKeyRing(os.Stdout, plain, recipients...)
	}
	f, err := os.OpenFile(k.Out, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if err := secrets.SealKeyRing(f, plain, recipients...); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
