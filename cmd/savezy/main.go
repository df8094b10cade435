// Command savezy はSavezy APIサーバーを起動する。
//
//	savezy [serve]                      APIサーバー（デフォルト）
//	savezy migrate                      マイグレーションの適用
//	savezy healthcheck                  コンテナ用ヘルスチェック
//	savezy apikey issue --email E       APIキーの発行
//	savezy apikey revoke --key K        APIキーの無効化
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/savezy/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
