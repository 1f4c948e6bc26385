package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
	"github.com/spf13/cobra"

	"coinflip/config"
	"coinflip/domain/interfaces"
	"coinflip/domain/services"
	"coinflip/domain/utils"
)

func BalanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Show the player's token balance and the game treasury",
		Args:  cobra.NoArgs,
		RunE:  balance,
	}
	cmd.Flags().StringP("token", "t", "", "token symbol (defaults to DEFAULT_TOKEN)")
	return cmd
}

func balance(cmd *cobra.Command, args []string) error {
	tokenSymbol, _ := cmd.Flags().GetString("token")

	cfg := config.Get()
	token, err := cfg.ResolveToken(tokenSymbol)
	if err != nil {
		return err
	}

	client, err := dialLedger(cmd.Context(), cfg)
	if err != nil {
		return err
	}

	return printBalance(cmd.Context(), client, cfg.GameContract, token.Address, client.Account(), cmd.OutOrStdout())
}

// printBalance reads the token once and prints the advisory view. account may be nil.
func printBalance(ctx context.Context, reader interfaces.LedgerReader, game, token ethtypes.Address0xHex, account *ethtypes.Address0xHex, out io.Writer) error {
	fact := services.NewBalanceReader(reader, game, token, nil).Read(ctx, token, account)
	if fact.Err != nil {
		return fmt.Errorf("failed to read balance: %w", fact.Err)
	}

	view := fact.Balance
	fmt.Fprintf(out, "Token:    %s (%s)\n", view.Symbol, utils.ShortAddress(token.String()))
	if account != nil {
		fmt.Fprintf(out, "Account:  %s\n", utils.ShortAddress(account.String()))
		fmt.Fprintf(out, "Balance:  %s %s\n", utils.FormatDisplay(view.Balance, view.Decimals), view.Symbol)
	} else {
		fmt.Fprintln(out, "Account:  not connected")
	}
	if view.Treasury != nil {
		fmt.Fprintf(out, "Treasury: %s %s\n", utils.FormatDisplay(view.Treasury, view.Decimals), view.Symbol)
	} else {
		fmt.Fprintln(out, "Treasury: unknown")
	}
	return nil
}
