package app

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/longlephamtien/peershare/coordinator"
)

var loginCmd = &cobra.Command{
	Use:   "login <username>",
	Short: "Authenticate and save a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogin,
}

var registerCmd = &cobra.Command{
	Use:   "register <username>",
	Short: "Create an account and save a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runRegister,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Disconnect from the network and remove the saved session",
	RunE:  runLogout,
}

func init() {
	loginCmd.Flags().String("password", "", "Account password")
	registerCmd.Flags().String("password", "", "Account password")
	registerCmd.Flags().String("display-name", "", "Display name shown to other peers")
}

func authClient() *coordinator.Client {
	return coordinator.NewClient(coordinator.ClientConfig{
		BaseURL: viper.GetString("server"),
		Timeout: viper.GetDuration("timeout"),
	})
}

// initPeer registers the client's peer endpoint with the directory so
// other clients can see it. The resulting endpoint is stored on the
// session before it is saved.
func initPeer(ctx context.Context, api *coordinator.Client, sess *coordinator.Session) error {
	serverIP := viper.GetString("server_ip")
	serverPort := viper.GetUint16("server_port")
	if _, err := api.InitSession(ctx, sess, serverIP, serverPort); err != nil {
		return fmt.Errorf("init peer endpoint: %w", err)
	}
	return nil
}

func runLogin(cmd *cobra.Command, args []string) error {
	password, _ := cmd.Flags().GetString("password")
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	api := authClient()
	sess, err := api.Login(ctx, args[0], password)
	if err != nil {
		return err
	}
	if err := initPeer(ctx, api, sess); err != nil {
		return err
	}
	if err := sess.Save(coordinator.SessionFilePath()); err != nil {
		return err
	}
	fmt.Printf("Logged in as %s\n", sess.User.Username)
	if exp := sess.ExpiresAt(); !exp.IsZero() {
		fmt.Printf("Session valid until %s\n", exp.Local().Format(time.RFC1123))
	}
	return nil
}

func runRegister(cmd *cobra.Command, args []string) error {
	password, _ := cmd.Flags().GetString("password")
	displayName, _ := cmd.Flags().GetString("display-name")
	if displayName == "" {
		displayName = args[0]
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	api := authClient()
	sess, err := api.Register(ctx, args[0], password, displayName)
	if err != nil {
		return err
	}
	if err := initPeer(ctx, api, sess); err != nil {
		return err
	}
	if err := sess.Save(coordinator.SessionFilePath()); err != nil {
		return err
	}
	fmt.Printf("Registered and logged in as %s\n", sess.User.Username)
	return nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	sess, err := coordinator.LoadSession(coordinator.SessionFilePath())
	if err == nil {
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		if err := authClient().Logout(ctx, sess); err != nil {
			// Local cleanup still proceeds; the token expires on its own.
			fmt.Printf("Server logout failed: %v\n", err)
		}
	}
	if err := coordinator.DeleteSession(coordinator.SessionFilePath()); err != nil {
		return err
	}
	fmt.Println("Logged out")
	return nil
}
