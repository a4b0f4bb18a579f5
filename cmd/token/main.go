// Command token prints a signed bearer token for a user, for local testing.
package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/pelusa-v/pelusa-chat/internal/auth"
	"github.com/pelusa-v/pelusa-chat/internal/config"
)

func main() {
	configDir := flag.String("config", "config", "directory holding config.yaml")
	userID := flag.String("user", "", "user id to sign for")
	username := flag.String("username", "", "username claim")
	flag.Parse()

	if *userID == "" {
		fmt.Fprintln(os.Stderr, "usage: token -user <id> [-username <name>]")
		os.Exit(2)
	}
	cfg, err := config.Load(*configDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	tok, err := auth.GenerateToken(cfg.JWT, *userID, *username)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(tok)
}
