package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/salonsync/salonsync/internal/output"
	"github.com/salonsync/salonsync/internal/syncclient"
	"github.com/salonsync/salonsync/internal/syncconfig"
	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Connect this device to a salonsync server",
	Long: `Store an API key for this device and choose the business to sync.
The key is checked against the server before it is saved.`,
	Example: `  salonsync login --server https://sync.example.com --key ss_live_...
  salonsync login --business b_123`,
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		server, _ := cmd.Flags().GetString("server")
		if server == "" {
			server = syncconfig.GetServerURL()
		}
		server = strings.TrimRight(server, "/")

		key, _ := cmd.Flags().GetString("key")
		if key == "" {
			key = os.Getenv("SALONSYNC_API_KEY")
		}
		if key == "" {
			if !output.IsInteractive() {
				return describeErr(output.ErrCodeInvalidInput, errors.New("--key is required when not on a terminal"))
			}
			err := huh.NewInput().
				Title("API key for " + server).
				EchoMode(huh.EchoModePassword).
				Value(&key).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("key is required")
					}
					return nil
				}).
				Run()
			if err != nil {
				return err
			}
		}
		key = strings.TrimSpace(key)

		prev, _ := syncconfig.LoadAuth()
		deviceID := syncconfig.GenerateDeviceID()
		if prev != nil && prev.DeviceID != "" {
			deviceID = prev.DeviceID
		}

		client := syncclient.New(server, key, deviceID)
		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		defer cancel()
		me, err := client.Me(ctx)
		if err != nil {
			return describeErr(errCode(err), fmt.Errorf("verify key: %w", err))
		}

		business, _ := cmd.Flags().GetString("business")
		if business == "" {
			business, err = chooseBusiness(me.Memberships)
			if err != nil {
				return describeErr(output.ErrCodeNoBusiness, err)
			}
		} else if !isMember(me.Memberships, business) {
			return describeErr(output.ErrCodePermissionError, fmt.Errorf("%s is not a member of %s", me.Email, business))
		}

		if err := syncconfig.SaveAuth(&syncconfig.AuthCredentials{
			APIKey:    key,
			UserID:    me.UserID,
			Email:     me.Email,
			ServerURL: server,
			DeviceID:  deviceID,
		}); err != nil {
			return describeErr(output.ErrCodeDatabaseError, fmt.Errorf("save credentials: %w", err))
		}
		cfg, err := syncconfig.LoadConfig()
		if err != nil {
			return describeErr(output.ErrCodeDatabaseError, err)
		}
		cfg.Sync.URL = server
		cfg.Sync.BusinessID = business
		if err := syncconfig.SaveConfig(cfg); err != nil {
			return describeErr(output.ErrCodeDatabaseError, fmt.Errorf("save config: %w", err))
		}

		if jsonOut {
			return output.JSON(map[string]string{
				"user_id":     me.UserID,
				"email":       me.Email,
				"server":      server,
				"business_id": business,
				"device_id":   deviceID,
			})
		}
		output.Success("Logged in as %s", me.Email)
		fmt.Printf("Business: %s\nDevice:   %s\n", business, deviceID)
		return nil
	},
}

func isMember(ms []syncclient.Membership, business string) bool {
	for _, m := range ms {
		if m.BusinessID == business {
			return true
		}
	}
	return false
}

// chooseBusiness picks the only membership, or asks when there are several.
func chooseBusiness(ms []syncclient.Membership) (string, error) {
	switch {
	case len(ms) == 0:
		return "", errors.New("this account is not a member of any business")
	case len(ms) == 1:
		return ms[0].BusinessID, nil
	case !output.IsInteractive():
		ids := make([]string, len(ms))
		for i, m := range ms {
			ids[i] = m.BusinessID
		}
		return "", fmt.Errorf("several businesses available, pass --business (one of %s)", strings.Join(ids, ", "))
	}

	opts := make([]huh.Option[string], len(ms))
	for i, m := range ms {
		opts[i] = huh.NewOption(fmt.Sprintf("%s (%s)", m.BusinessName, m.Role), m.BusinessID)
	}
	choice := ms[0].BusinessID
	err := huh.NewSelect[string]().
		Title("Which business does this device serve?").
		Options(opts...).
		Value(&choice).
		Run()
	return choice, err
}

var logoutCmd = &cobra.Command{
	Use:     "logout",
	Short:   "Forget this device's API key",
	Long:    `Remove stored credentials. Queued changes stay on disk and sync after the next login.`,
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := syncconfig.ClearAuth(); err != nil {
			return describeErr(output.ErrCodeDatabaseError, err)
		}
		output.Success("Logged out")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:     "whoami",
	Short:   "Show the stored login",
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := syncconfig.LoadAuth()
		if err != nil {
			return describeErr(output.ErrCodeDatabaseError, err)
		}
		if creds == nil || creds.APIKey == "" {
			return describeErr(output.ErrCodeNotLoggedIn, errSyncNotConfigured)
		}
		if jsonOut {
			return output.JSON(map[string]string{
				"user_id":     creds.UserID,
				"email":       creds.Email,
				"server":      syncconfig.GetServerURL(),
				"business_id": syncconfig.GetBusinessID(),
				"device_id":   creds.DeviceID,
			})
		}
		fmt.Printf("Email:    %s\nServer:   %s\nBusiness: %s\nDevice:   %s\n",
			creds.Email, syncconfig.GetServerURL(), syncconfig.GetBusinessID(), creds.DeviceID)
		return nil
	},
}

func init() {
	loginCmd.Flags().String("server", "", "Server URL (default from config)")
	loginCmd.Flags().String("key", "", "API key (prompted when omitted)")
	loginCmd.Flags().String("business", "", "Business id to sync")
	rootCmd.AddCommand(loginCmd, logoutCmd, whoamiCmd)
}
