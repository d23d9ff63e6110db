package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/manifoldco/promptui"

	"github.com/sworrl/LaundR/pkg/engine"
)

// runMenu drives the interactive loop. Every entry maps onto the same
// verb handlers the command line uses; errors print and drop back to
// the menu instead of exiting.
func runMenu(a *app) {
	for {
		sel := promptui.Select{
			Label: fmt.Sprintf("LaundR [%s]", a.mode),
			Items: []string{
				"Read card",
				"Write card",
				"Set balance",
				"Edit block",
				"Crack trailer keys",
				"Mint master card",
				"Audit trace",
				"Statistics",
				"Switch mode",
				"Quit",
			},
			Size: 10,
		}
		_, choice, err := sel.Run()
		if err != nil {
			// ^C on the top-level menu quits.
			return
		}

		switch choice {
		case "Read card":
			var out string
			if out, err = ask("Dump file (empty to auto-name)", ""); err == nil {
				a.cardPath = out
				err = a.runRead()
			}
		case "Write card":
			if err = a.promptCard("Card image to write"); err == nil {
				err = a.runWrite()
			}
		case "Set balance":
			if err = a.promptCard("Card image to edit"); err == nil {
				var amount string
				if amount, err = ask("New balance in dollars", "5.00"); err == nil {
					err = a.runBalance([]string{amount})
				}
			}
		case "Edit block":
			if err = a.promptCard("Card image to edit"); err == nil {
				var blk, data string
				if blk, err = ask("Block number", ""); err == nil {
					if data, err = ask("16 hex bytes", ""); err == nil {
						err = a.runEdit([]string{blk, data})
					}
				}
			}
		case "Crack trailer keys":
			var sector string
			if sector, err = ask("Sector (empty for all)", ""); err == nil {
				var args []string
				if sector != "" {
					args = []string{sector}
				}
				err = a.runCrack(args)
			}
		case "Mint master card":
			var amount string
			if amount, err = ask("Balance in dollars", "50.00"); err == nil {
				err = a.runMint([]string{amount})
			}
		case "Audit trace":
			if err = a.promptCard("Original card image"); err == nil {
				var trace string
				if trace, err = ask("Trace file (empty: <card>.shd)", ""); err == nil {
					var args []string
					if trace != "" {
						args = []string{trace}
					}
					err = a.runAudit(args)
				}
			}
		case "Statistics":
			var uid string
			if uid, err = ask("Card UID (empty for totals)", ""); err == nil {
				var args []string
				if uid != "" {
					args = []string{uid}
				}
				err = a.runStats(args)
			}
		case "Switch mode":
			err = a.switchMode()
		case "Quit":
			return
		}

		if err != nil && !errors.Is(err, promptui.ErrInterrupt) {
			fmt.Printf("error: %v\n", err)
		}
		fmt.Println()
	}
}

// promptCard asks for a card image path, offering the current one as
// the default, and keeps the answer as the session's current card.
func (a *app) promptCard(label string) error {
	path, err := ask(label, a.cardPath)
	if err != nil {
		return err
	}
	if path == "" {
		return errors.New("no card image given")
	}
	a.cardPath = path
	return nil
}

func (a *app) switchMode() error {
	sel := promptui.Select{
		Label: "Transaction policy",
		Items: []string{"hack", "legit", "interrogate"},
	}
	_, choice, err := sel.Run()
	if err != nil {
		return err
	}
	mode, err := engine.ParseMode(choice)
	if err != nil {
		return err
	}
	a.mode = mode
	a.cfg.Mode = choice
	fmt.Printf("Mode set to %s\n", mode)
	return nil
}

func ask(label, def string) (string, error) {
	p := promptui.Prompt{Label: label, Default: def}
	v, err := p.Run()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(v), nil
}
