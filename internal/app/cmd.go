package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/hitoshi/savezy/internal/apikey"
	"github.com/hitoshi/savezy/internal/config"
	"github.com/hitoshi/savezy/internal/repository"
	"github.com/hitoshi/savezy/internal/user"
)

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。サブコマンド省略時はserveとして動作する。
func Run(w io.Writer, args []string) error {
	root := NewRootCommand(w)
	root.SetArgs(args)
	return root.ExecuteContext(context.Background())
}

// NewRootCommand はsavezyのコマンドツリーを構築する。
// ログとコマンド出力はいずれもwに書き出す。
func NewRootCommand(w io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "savezy",
		Short:         "Savezy API server",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return serve(w)
		},
	}
	root.SetOut(w)
	root.SetErr(w)

	root.AddCommand(
		newServeCommand(w),
		newMigrateCommand(w),
		newHealthcheckCommand(),
		newAPIKeyCommand(w),
	)
	return root
}

func serve(w io.Writer) error {
	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}
	slog.Info("starting application",
		slog.String("command", "serve"),
		slog.String("port", cfg.ServerPort),
	)
	return runServe(cfg)
}

func newServeCommand(w io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return serve(w)
		},
	}
}

func newMigrateCommand(w io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply all pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			cfg, err := Init(w)
			if err != nil {
				return fmt.Errorf("initialization failed: %w", err)
			}
			return runMigrate(cfg)
		},
	}
}

// newHealthcheckCommand は軽量サブコマンドのため、設定の読み込みとログの初期化を行わない。
func newHealthcheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "healthcheck",
		Short: "Probe the local /health endpoint (for container health checks)",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return runHealthcheck(healthcheckPort())
		},
	}
}

func newAPIKeyCommand(w io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
	}

	var email string
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Issue a new API key for the user with the given email (created if absent)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := Init(w)
			if err != nil {
				return fmt.Errorf("initialization failed: %w", err)
			}
			return runAPIKeyIssue(cmd.Context(), cfg, cmd.OutOrStdout(), email)
		},
	}
	issue.Flags().StringVar(&email, "email", "", "owner email address")
	_ = issue.MarkFlagRequired("email")

	var key string
	revoke := &cobra.Command{
		Use:   "revoke",
		Short: "Deactivate an API key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := Init(w)
			if err != nil {
				return fmt.Errorf("initialization failed: %w", err)
			}
			return runAPIKeyRevoke(cmd.Context(), cfg, cmd.OutOrStdout(), key)
		},
	}
	revoke.Flags().StringVar(&key, "key", "", "raw API key (sk_...)")
	_ = revoke.MarkFlagRequired("key")

	cmd.AddCommand(issue, revoke)
	return cmd
}

// runAPIKeyIssue はemailのユーザーを（無ければ作成して）取得し、APIキーを発行する。
// 生のキーはこの時だけ表示される。
func runAPIKeyIssue(ctx context.Context, cfg *config.Config, out io.Writer, email string) error {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	owner, err := user.NewResolver(repository.NewPostgresUserRepo(db)).EnsureByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to resolve user: %w", err)
	}

	store := apikey.NewStore(repository.NewPostgresAPIKeyRepo(db), 0, 0)
	raw, _, err := store.Issue(ctx, owner.ID)
	if err != nil {
		return fmt.Errorf("failed to issue api key: %w", err)
	}

	fmt.Fprintln(out, "API key issued successfully!")
	fmt.Fprintln(out, "----------------------------------------")
	fmt.Fprintf(out, "User:    %s (id=%d)\n", owner.Email, owner.ID)
	fmt.Fprintf(out, "API Key: %s\n", raw)
	fmt.Fprintln(out, "----------------------------------------")
	fmt.Fprintln(out, "Save the key securely. It will not be shown again.")
	return nil
}

// runAPIKeyRevoke はAPIキーを無効化する。
func runAPIKeyRevoke(ctx context.Context, cfg *config.Config, out io.Writer, raw string) error {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	store := apikey.NewStore(repository.NewPostgresAPIKeyRepo(db), 0, 0)
	if err := store.Deactivate(ctx, raw); err != nil {
		return fmt.Errorf("failed to revoke api key: %w", err)
	}

	fmt.Fprintf(out, "API key %s revoked.\n", apikey.DisplayPrefix(raw))
	return nil
}
