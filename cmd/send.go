package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"vending-machine/internal/api"
	"vending-machine/pkg/client"

	"github.com/spf13/cobra"
)

var sendFlags struct {
	addr     string
	coins    []string
	purchase int
	session  string
	timeout  time.Duration
}

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send one deposit and/or purchase request to a running machine",
	Example: `  vending send --coin 1=1 --coin 2=1
  vending send --coin 100=1 --purchase 65 --session alice`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := buildRequest(sendFlags.coins, sendFlags.purchase, sendFlags.session)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), sendFlags.timeout)
		defer cancel()

		resp, err := client.Send(ctx, sendFlags.addr, req)
		if err != nil {
			return err
		}
		out, err := resp.Encode()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVar(&sendFlags.addr, "addr", "127.0.0.1:22222", "Machine address")
	sendCmd.Flags().StringArrayVar(&sendFlags.coins, "coin", nil, "Coin to deposit as face=quantity, repeatable")
	sendCmd.Flags().IntVar(&sendFlags.purchase, "purchase", -1, "Price of the item to buy")
	sendCmd.Flags().StringVar(&sendFlags.session, "session", "", "Session id, empty uses the shared session")
	sendCmd.Flags().DurationVar(&sendFlags.timeout, "timeout", 10*time.Second, "Request timeout")
}

func buildRequest(coins []string, purchase int, session string) (api.Request, error) {
	req := api.Request{Session: session}
	if len(coins) > 0 {
		parsed, err := parseCoins(coins)
		if err != nil {
			return api.Request{}, err
		}
		req.Deposit = &api.DepositRequest{Coins: parsed}
	}
	if purchase >= 0 {
		req.Purchase = &api.PurchaseRequest{Value: purchase}
	}
	if req.Deposit == nil && req.Purchase == nil {
		return api.Request{}, fmt.Errorf("nothing to send: use --coin and/or --purchase")
	}
	return req, nil
}

func parseCoins(values []string) (map[int]int, error) {
	coins := make(map[int]int, len(values))
	for _, v := range values {
		face, qty, ok := strings.Cut(v, "=")
		if !ok {
			return nil, fmt.Errorf("invalid coin %q, expected face=quantity", v)
		}
		f, err := strconv.Atoi(strings.TrimSpace(face))
		if err != nil {
			return nil, fmt.Errorf("invalid coin face %q: %w", face, err)
		}
		q, err := strconv.Atoi(strings.TrimSpace(qty))
		if err != nil {
			return nil, fmt.Errorf("invalid coin quantity %q: %w", qty, err)
		}
		coins[f] += q
	}
	return coins, nil
}
