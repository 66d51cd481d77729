// Command newsdesk はニュース取り込みパイプラインのエントリーポイント。
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/newsdesk/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "newsdesk: %v\n", err)
		os.Exit(1)
	}
}
