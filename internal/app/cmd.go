package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker はワーカーモードで起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
	// CommandGrantAdmin はメールアドレスで指定したユーザーに管理者ロールを付与する。
	CommandGrantAdmin Command = "grant-admin"
	// CommandRevokeAdmin は管理者ロールを外して一般ユーザーに戻す。
	CommandRevokeAdmin Command = "revoke-admin"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch args[0] {
	case "worker":
		return CommandWorker
	case "serve":
		return CommandServe
	case "migrate":
		return CommandMigrate
	case "healthcheck":
		return CommandHealthcheck
	case "grant-admin":
		return CommandGrantAdmin
	case "revoke-admin":
		return CommandRevokeAdmin
	default:
		return CommandServe
	}
}

// commandArg はサブコマンドの最初の引数を返す。ない場合は空文字。
func commandArg(args []string) string {
	if len(args) < 2 {
		return ""
	}
	return args[1]
}
