package main

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MrSco/ha-eufy-robovac-s1-pro/internal/robovac"
)

// decodeCmd inspects a captured DPS 153 status blob offline, which is
// the fastest way to triage an unrecognized pattern from the logs.
func decodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <blob>",
		Short: "Decode a base64 or hex status blob",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			blob, err := parseBlob(args[0])
			if err != nil {
				return err
			}

			state, substatus := robovac.Decode(blob)
			fmt.Fprintf(cmd.OutOrStdout(), "bytes:     %s\n", hex.EncodeToString(blob))
			fmt.Fprintf(cmd.OutOrStdout(), "state:     %s\n", state)
			fmt.Fprintf(cmd.OutOrStdout(), "substatus: %s\n", substatus)
			if desc, ok := robovac.SubstatusDescriptions[substatus]; ok {
				fmt.Fprintf(cmd.OutOrStdout(), "detail:    %s\n", desc)
			}
			return nil
		},
	}
}

func parseBlob(raw string) ([]byte, error) {
	if blob, err := base64.StdEncoding.DecodeString(raw); err == nil {
		return blob, nil
	}
	if blob, err := hex.DecodeString(raw); err == nil {
		return blob, nil
	}
	return nil, fmt.Errorf("blob is neither base64 nor hex: %q", raw)
}
