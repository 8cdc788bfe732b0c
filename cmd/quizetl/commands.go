package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"quizbank/internal/app"
	"quizbank/internal/auth"
	"quizbank/internal/db"
	"quizbank/internal/etl"
	"quizbank/internal/logger"
	"quizbank/internal/question"

	"github.com/spf13/cobra"
)

// env is built once per command invocation by PersistentPreRunE.
type env struct {
	cfg app.Config
	log *logger.Logger
	db  *sql.DB
}

func (e *env) close() {
	if e.db != nil {
		_ = e.db.Close()
	}
	if e.log != nil {
		e.log.Sync()
	}
}

func newRootCmd() (*cobra.Command, *env) {
	e := &env{}
	var dataDir string

	root := &cobra.Command{
		Use:           "quizetl",
		Short:         "Load quiz question spreadsheets into the question store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			if dataDir != "" {
				cfg.ETL.DataDir = dataDir
			}
			log, err := logger.New(cfg.LogMode)
			if err != nil {
				return err
			}
			conn, err := db.OpenPostgres(cmd.Context(), cfg.DBDSN, db.PostgresConfig{
				MaxOpenConns:    cfg.DBMaxOpenConns,
				MaxIdleConns:    cfg.DBMaxIdleConns,
				ConnMaxLifetime: time.Duration(cfg.DBConnMaxLifeMins) * time.Minute,
			})
			if err != nil {
				log.Sync()
				return err
			}
			e.cfg, e.log, e.db = cfg, log, conn
			return nil
		},
	}
	root.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory holding in/, treated/ and log/ (overrides ETL_DATA_DIR)")

	root.AddCommand(newRunCmd(e), newWatchCmd(e), newMigrateCmd(e), newUserCmd(e))
	return root, e
}

func newPipeline(e *env) (*etl.Pipeline, error) {
	return etl.NewPipeline(app.PipelineConfig(e.cfg), question.NewService(e.db), e.log.With("component", "etl"), nil)
}

func newRunCmd(e *env) *cobra.Command {
	var author string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process every file in the inbox once",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPipeline(e)
			if err != nil {
				return err
			}
			if author == "" {
				author = e.cfg.ETL.DefaultAuthor
			}
			res, err := p.Run(cmd.Context(), etl.RunInput{Author: author})
			if err != nil {
				if errors.Is(err, etl.ErrEmptyInput) {
					return fmt.Errorf("%w in %s", err, p.InboxDir())
				}
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Message)
			return nil
		},
	}
	cmd.Flags().StringVar(&author, "author", "", "author recorded in question metadata (default ETL_DEFAULT_AUTHOR)")
	return cmd
}

func newWatchCmd(e *env) *cobra.Command {
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch the inbox and import files as they arrive",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPipeline(e)
			if err != nil {
				return err
			}
			return etl.NewWatcher(p, e.cfg.ETL.DefaultAuthor, debounce, e.log).Watch(cmd.Context())
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", 2*time.Second, "quiet period before a run starts")
	return cmd
}

func newMigrateCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := db.Migrate(cmd.Context(), e.db); err != nil {
				return err
			}
			e.log.Info("schema up to date")
			return nil
		},
	}
}

func newUserCmd(e *env) *cobra.Command {
	var in auth.UpsertUserInput
	cmd := &cobra.Command{
		Use:   "user-add",
		Short: "Create or update an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return addUser(cmd.Context(), auth.NewService(e.db, auth.ServiceConfig{}), in, cmd)
		},
	}
	cmd.Flags().StringVar(&in.Username, "username", "", "login name (required)")
	cmd.Flags().StringVar(&in.FullName, "name", "", "display name")
	cmd.Flags().StringVar(&in.Role, "role", auth.RoleTeacher, "admin, teacher or student")
	cmd.Flags().StringVar(&in.Password, "password", "", "password, at least 8 characters")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func addUser(ctx context.Context, svc *auth.Service, in auth.UpsertUserInput, cmd *cobra.Command) error {
	u, err := svc.UpsertUser(ctx, in)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "user %s (%s) id=%d\n", u.Username, u.Role, u.ID)
	return nil
}
