package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	flag "maunium.net/go/mauflag"

	"twitch-chat-bridge/auth"
)

var (
	credsPath   = flag.MakeFull("C", "creds", "Path to the Twitch application credentials file.", "./creds.json").String()
	state       = flag.MakeFull("s", "state", "OAuth state value; random when empty.", "").String()
	wantHelp, _ = flag.MakeHelpFlag()
)

func main() {
	os.Exit(run())
}

func run() int {
	flag.SetHelpTitles(
		"twitch-auth - prints the Twitch authorization URL for the bridge account.",
		"twitch-auth [-h] [-C <creds path>] [-s <state>]",
	)
	if err := flag.Parse(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.PrintHelp()
		return 1
	} else if *wantHelp {
		flag.PrintHelp()
		return 0
	}

	creds, err := auth.LoadCredentials(*credsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load credentials: %v\n", err)
		return 1
	}
	if creds.RedirectURI == "" {
		fmt.Fprintln(os.Stderr, "credentials: redirect_uri is required to build the authorization URL")
		return 1
	}

	s := *state
	if s == "" {
		s = uuid.NewString()
	}

	fmt.Println(auth.NewExchanger(creds).AuthCodeURL(s))
	fmt.Fprintln(os.Stderr, "Open the URL, approve access, then run chat-bridge once with -c <code> from the redirect.")
	return 0
}
