package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/BitcreditProtocol/crsatmint/cashu/nuts/nut02"
	"github.com/urfave/cli/v2"
)

const (
	adminServerURLEnv  = "MINT_ADMIN_URL"
	defaultAdminURL    = "http://127.0.0.1:3339"
	publicServerURLEnv = "MINT_SERVER_URL"
	defaultPublicURL   = "http://127.0.0.1:3338"
)

func publicURL() string {
	if u := os.Getenv(publicServerURLEnv); u != "" {
		return u
	}
	return defaultPublicURL
}

func adminURL() string {
	if u := os.Getenv(adminServerURLEnv); u != "" {
		return u
	}
	return defaultAdminURL
}

func main() {
	app := &cli.App{
		Name:  "mint-cli",
		Usage: "cli to operate a crsatmint instance over its admin API",
		Commands: []*cli.Command{
			{
				Name:   "pending",
				Usage:  "List quotes awaiting an offer",
				Action: listPending,
			},
			{
				Name:   "offers",
				Usage:  "List quotes with an outstanding offer",
				Action: listOffers,
			},
			{
				Name:      "offer",
				Usage:     "Offer a pending quote a discounted keyset",
				ArgsUsage: "<quote_id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "keyset", Required: true, Usage: "Keyset id to bind the offer to"},
					&cli.Uint64Flag{Name: "discounted", Required: true, Usage: "Discounted crsat amount"},
					&cli.Int64Flag{Name: "ttl", Usage: "Offer expiry as unix seconds"},
				},
				Action: offerQuote,
			},
			{
				Name:      "deny",
				Usage:     "Deny a pending quote",
				ArgsUsage: "<quote_id>",
				Action:    denyQuote,
			},
			{
				Name:   "keysets",
				Usage:  "Get keysets",
				Action: getKeysets,
			},
			{
				Name:      "enable",
				Usage:     "Activate a keyset",
				ArgsUsage: "<keyset_id>",
				Action:    enableKeyset,
			},
			{
				Name:      "disable",
				Usage:     "Deactivate a keyset",
				ArgsUsage: "<keyset_id>",
				Action:    disableKeyset,
			},
			{
				Name:  "rotate",
				Usage: "Rotate in a fresh maturity-bound keyset",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "maturity", Required: true, Usage: "Final maturity as unix seconds"},
				},
				Action: rotateKeyset,
			},
			{
				Name:   "balance",
				Usage:  "Get the treasury's swept sat balance",
				Action: treasuryBalance,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		printErr(err)
	}
}

func listPending(ctx *cli.Context) error {
	return printQuoteIDs(adminURL() + "/admin/quotes/pending")
}

func listOffers(ctx *cli.Context) error {
	return printQuoteIDs(adminURL() + "/admin/quotes/offers")
}

func printQuoteIDs(url string) error {
	body, _, err := doRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	var resp struct {
		QuoteIDs []string `json:"quote_ids"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return err
	}
	if len(resp.QuoteIDs) == 0 {
		fmt.Println("(none)")
		return nil
	}
	for _, id := range resp.QuoteIDs {
		fmt.Println(id)
	}
	return nil
}

func offerQuote(ctx *cli.Context) error {
	quoteID := ctx.Args().First()
	if quoteID == "" {
		return errors.New("quote id is required")
	}
	payload := struct {
		KeysetID   string `json:"keyset_id"`
		Discounted uint64 `json:"discounted"`
		TTLSeconds int64  `json:"ttl_seconds,omitempty"`
	}{
		KeysetID:   ctx.String("keyset"),
		Discounted: ctx.Uint64("discounted"),
		TTLSeconds: ctx.Int64("ttl"),
	}
	body, _ := json.Marshal(payload)
	_, status, err := doRequest(http.MethodPost, adminURL()+"/admin/quotes/"+quoteID+"/offer", body)
	if err != nil {
		return err
	}
	if status == http.StatusNoContent {
		fmt.Println("offer recorded")
	}
	return nil
}

func denyQuote(ctx *cli.Context) error {
	quoteID := ctx.Args().First()
	if quoteID == "" {
		return errors.New("quote id is required")
	}
	_, status, err := doRequest(http.MethodPost, adminURL()+"/admin/quotes/"+quoteID+"/deny", nil)
	if err != nil {
		return err
	}
	if status == http.StatusNoContent {
		fmt.Println("quote denied")
	}
	return nil
}

func getKeysets(ctx *cli.Context) error {
	body, _, err := doRequest(http.MethodGet, publicURL()+"/v1/keysets", nil)
	if err != nil {
		return err
	}

	var keysets nut02.GetKeysetsResponse
	if err := json.Unmarshal(body, &keysets); err != nil {
		return err
	}

	fmt.Println("Keysets: ")
	for _, keyset := range keysets.Keysets {
		fmt.Printf("\n%v\n", keyset.Id)
		fmt.Printf("\tunit: %v\n", keyset.Unit)
		fmt.Printf("\tactive: %v\n\n", keyset.Active)
	}
	return nil
}

func enableKeyset(ctx *cli.Context) error {
	return toggleKeyset(ctx, "enable")
}

func disableKeyset(ctx *cli.Context) error {
	return toggleKeyset(ctx, "disable")
}

func toggleKeyset(ctx *cli.Context, action string) error {
	keysetID := ctx.Args().First()
	if keysetID == "" {
		return errors.New("keyset id is required")
	}
	_, status, err := doRequest(http.MethodPost, adminURL()+"/admin/keysets/"+keysetID+"/"+action, nil)
	if err != nil {
		return err
	}
	if status == http.StatusNoContent {
		fmt.Printf("keyset %s %sd\n", keysetID, action)
	}
	return nil
}

func rotateKeyset(ctx *cli.Context) error {
	maturity := ctx.Int64("maturity")
	if maturity == 0 {
		return errors.New("please specify a maturity for the new keyset")
	}
	payload := struct {
		MaturityUnixSeconds int64 `json:"maturity_unix_seconds"`
	}{MaturityUnixSeconds: maturity}
	body, _ := json.Marshal(payload)

	resp, _, err := doRequest(http.MethodPost, adminURL()+"/admin/keysets/rotate", body)
	if err != nil {
		return err
	}

	var newKeyset struct {
		KeysetID string `json:"keyset_id"`
	}
	if err := json.Unmarshal(resp, &newKeyset); err != nil {
		return err
	}
	fmt.Printf("New keyset: %s (matures %v)\n", newKeyset.KeysetID, time.Unix(maturity, 0))
	return nil
}

func treasuryBalance(ctx *cli.Context) error {
	body, _, err := doRequest(http.MethodGet, adminURL()+"/admin/treasury/balance", nil)
	if err != nil {
		return err
	}
	var resp struct {
		Balance uint64 `json:"balance"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return err
	}
	fmt.Printf("Treasury balance: %d sat\n", resp.Balance)
	return nil
}

func doRequest(method, target string, body []byte) ([]byte, int, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, target, bodyReader)
	if err != nil {
		return nil, 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, resp.StatusCode, errors.New(string(respBody))
	}
	return respBody, resp.StatusCode, nil
}

func printErr(err error) {
	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}
