// Command chatgate はAIチャットの有料会員向けアクセス制御サーバーを起動する。
//
// 使い方:
//
//	chatgate [serve|worker|migrate|revoke <identity-id>|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/hitoshi/chatgate/internal/app"
)

func main() {
	// .envは任意。存在しない場合は環境変数のみを使う。
	_ = godotenv.Load()

	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "chatgate: %v\n", err)
		os.Exit(1)
	}
}
