// Command quill is a terminal mail client: a threaded inbox over IMAP
// with a local cache, multiple accounts, undoable actions, and an
// optional AI assistant.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/quillmail/quill/internal/app"
	"github.com/quillmail/quill/internal/credential"
	"github.com/quillmail/quill/internal/model"
)

func main() {
	configPath := flag.String("config", model.DefaultConfigPath(), "path to the config file")
	dataDir := flag.String("data", model.DefaultDataDir(), "directory for cache, attachments, and logs")
	setPassword := flag.String("set-password", "", "store the IMAP password for the given account ID and exit")
	deletePassword := flag.String("delete-password", "", "remove the stored IMAP password for the given account ID and exit")
	setAPIKey := flag.Bool("set-api-key", false, "store the assistant API key and exit")
	initConfig := flag.Bool("init-config", false, "write a default config file and exit")
	flag.Parse()

	if *initConfig {
		if err := writeDefaultConfig(*configPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println("wrote", *configPath)
		return
	}

	if *deletePassword != "" {
		if err := credential.DeleteIMAPPassword(*deletePassword); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	if *setPassword != "" || *setAPIKey {
		if err := storeCredential(*setPassword, *setAPIKey); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	cfg, err := model.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if len(cfg.Accounts) == 0 {
		fmt.Fprintf(os.Stderr, "no accounts configured; add one to %s\n", *configPath)
		os.Exit(1)
	}

	a, err := app.New(cfg, *dataDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// writeDefaultConfig saves a starter config for the user to fill in. An
// existing file is left alone.
func writeDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	cfg, err := model.LoadConfig(path)
	if err != nil {
		return err
	}
	return model.SaveConfig(path, cfg)
}

// storeCredential reads a secret from stdin and saves it in the system
// keyring.
func storeCredential(accountID string, apiKey bool) error {
	fmt.Fprint(os.Stderr, "secret: ")
	var secret string
	if _, err := fmt.Scanln(&secret); err != nil {
		return fmt.Errorf("reading secret: %w", err)
	}

	if apiKey {
		return credential.SetAPIKey(secret)
	}
	return credential.SetIMAPPassword(accountID, secret)
}
