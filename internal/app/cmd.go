package app

import (
	"github.com/spf13/cobra"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はオペレーターAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker はキューワーカー・スケジューラ・クリーンアップを起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandSeedSources はYAMLファイルからソース登録簿を更新することを示す。
	CommandSeedSources Command = "seed-sources"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// NewRootCommand はnewsdeskのルートコマンドを生成する。
// サブコマンドを指定しない場合はserveとして動作する。
func NewRootCommand(r *Runner) *cobra.Command {
	root := &cobra.Command{
		Use:           "newsdesk",
		Short:         "ニュース取り込みパイプライン",
		Long:          "ソースの取得・加工・公開をRedisのジョブキューで実行するニュース取り込みパイプライン。",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.execute(cmd, CommandServe)
		},
	}
	root.PersistentFlags().StringVar(&r.configFile, "config", "", "設定ファイル（環境変数が優先）")

	root.AddCommand(
		&cobra.Command{
			Use:   string(CommandServe),
			Short: "オペレーターAPIサーバーを起動する",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return r.execute(cmd, CommandServe)
			},
		},
		&cobra.Command{
			Use:   string(CommandWorker),
			Short: "キューワーカー・スケジューラ・ジョブ削除を起動する",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return r.execute(cmd, CommandWorker)
			},
		},
		newMigrateCommand(r),
		newSeedSourcesCommand(r),
		&cobra.Command{
			Use:   string(CommandHealthcheck),
			Short: "ローカルの/healthを確認する",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runHealthcheck(healthcheckPort())
			},
		},
	)
	return root
}

func newMigrateCommand(r *Runner) *cobra.Command {
	cmd := &cobra.Command{
		Use:   string(CommandMigrate),
		Short: "未適用のマイグレーションを適用する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.execute(cmd, CommandMigrate)
		},
	}
	cmd.Flags().IntVar(&r.migrateDown, "down", 0, "指定したバージョン数だけ戻す")
	cmd.Flags().BoolVar(&r.migrateStatus, "status", false, "適用済みバージョンを表示するだけで変更しない")
	return cmd
}

func newSeedSourcesCommand(r *Runner) *cobra.Command {
	cmd := &cobra.Command{
		Use:   string(CommandSeedSources) + " [file]",
		Short: "YAMLファイルのソースを登録・更新する",
		Long:  "ファイルを省略した場合はSOURCES_FILEを読み込む。URLが一致するソースは更新する。",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				r.sourcesFile = args[0]
			}
			return r.execute(cmd, CommandSeedSources)
		},
	}
	return cmd
}
