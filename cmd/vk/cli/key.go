package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/voightkampff/vk/internal/service"
	"github.com/voightkampff/vk/internal/store"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long:    "Create, list, toggle, and delete the API keys the verifier accepts.",
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyToggleCmd())
	cmd.AddCommand(newKeyDeleteCmd())

	return cmd
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var (
		name    string
		user    string
		scopes  []string
		expires int
		admin   bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long:  "Generate a new API key. The plaintext key is shown once and cannot be retrieved again.",
		Example: `  vk key create --name "CI pipeline" --user ci --scope builds --scope artifacts
  vk key create --name backup --user ops --scope '*' --expires-in 90`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var expiresPtr *int
			if cmd.Flags().Changed("expires-in") {
				expiresPtr = &expires
			}
			return runKeyCreate(name, user, scopes, expiresPtr, admin)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Human-readable key name (required)")
	cmd.Flags().StringVar(&user, "user", "", "Owner the key acts as (required)")
	cmd.Flags().StringArrayVar(&scopes, "scope", nil, "Service the key may access; repeatable, '*' for all (required)")
	cmd.Flags().IntVar(&expires, "expires-in", 0, "Days until the key expires (omit for no expiry)")
	cmd.Flags().BoolVar(&admin, "admin", false, "Grant the key admin privileges")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("user")
	cmd.MarkFlagRequired("scope")

	return cmd
}

func runKeyCreate(name, user string, scopes []string, expiresInDays *int, admin bool) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	keySvc := service.NewKeyService(st, newLogger())
	key, plaintext, err := keySvc.Create(context.Background(), service.CreateKeyInput{
		KeyName:       name,
		User:          user,
		Scopes:        scopes,
		ExpiresInDays: expiresInDays,
		IsAdmin:       admin,
	})
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}

	fmt.Println("API key created:")
	fmt.Println()
	fmt.Printf("  Key:    %s\n", plaintext)
	fmt.Printf("  ID:     %d\n", key.ID)
	fmt.Printf("  Name:   %s\n", key.KeyName)
	fmt.Printf("  User:   %s\n", key.User)
	fmt.Printf("  Scopes: %s\n", strings.Join(key.Scopes.Strings(), ", "))
	if key.ExpiresAt != nil {
		fmt.Printf("  Expires: %s\n", key.ExpiresAt.Format("2006-01-02"))
	}
	if key.IsAdmin {
		fmt.Println("  Admin:  yes")
	}
	fmt.Println()
	fmt.Println("  Save this key now - it cannot be retrieved again.")
	return nil
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyList(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runKeyList(jsonOutput bool) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	keys, err := st.ListAPIKeys(context.Background())
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(keys)
	}

	if len(keys) == 0 {
		fmt.Println("No API keys configured. Use 'vk key create' to create one.")
		return nil
	}

	fmt.Printf("%-6s %-24s %-16s %-24s %-6s %-8s\n", "ID", "NAME", "USER", "SCOPES", "ADMIN", "ACTIVE")
	fmt.Printf("%-6s %-24s %-16s %-24s %-6s %-8s\n", "--", "----", "----", "------", "-----", "------")
	for _, k := range keys {
		admin := "no"
		if k.IsAdmin {
			admin = "yes"
		}
		active := "yes"
		if !k.IsActive {
			active = "no"
		}
		fmt.Printf("%-6d %-24s %-16s %-24s %-6s %-8s\n",
			k.ID, k.KeyName, k.User, strings.Join(k.Scopes.Strings(), ","), admin, active)
	}

	return nil
}

// ---------- key toggle ----------

func newKeyToggleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <id>",
		Short: "Flip an API key's active flag",
		Long:  "Deactivate an active key or reactivate an inactive one. Takes effect on the next verification.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyToggle(args[0])
		},
	}
}

func runKeyToggle(idArg string) error {
	id, err := strconv.ParseInt(idArg, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid key id %q", idArg)
	}

	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	key, err := st.ToggleAPIKey(context.Background(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no API key with id %d", id)
		}
		return fmt.Errorf("toggle api key: %w", err)
	}

	state := "active"
	if !key.IsActive {
		state = "inactive"
	}
	fmt.Printf("Key %d (%s) is now %s\n", key.ID, key.KeyName, state)
	return nil
}

// ---------- key delete ----------

func newKeyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete an API key permanently",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyDelete(args[0])
		},
	}
}

func runKeyDelete(idArg string) error {
	id, err := strconv.ParseInt(idArg, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid key id %q", idArg)
	}

	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := st.DeleteAPIKey(context.Background(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no API key with id %d", id)
		}
		return fmt.Errorf("delete api key: %w", err)
	}

	fmt.Printf("Deleted API key %d\n", id)
	return nil
}
