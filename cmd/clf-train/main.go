package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jinford/clf-train/cmd/clf-train/commands"
	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "clf-train",
		Usage: "凍結済みビジョンエンコーダの埋め込み上で線形分類器ヘッドを学習するツール",
		Commands: []*cli.Command{
			{
				Name:  "train",
				Usage: "分類器ヘッドを学習し、チェックポイントをハブへ公開",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "env",
						Usage: "環境変数ファイルパス",
						Value: ".env",
					},
					&cli.StringFlag{
						Name:  "model-name",
						Usage: "特徴抽出器のモデル識別子",
						Value: "openai/clip-vit-base-patch32",
					},
					&cli.StringFlag{
						Name:  "dataset-name",
						Usage: "データセット識別子",
						Value: "Xmaster6y/fruit-vegetable-concepts",
					},
					&cli.BoolFlag{
						Name:  "download-dataset",
						Usage: "スナップショットを強制再ダウンロード",
					},
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "バッチサイズ",
						Value: 64,
					},
					&cli.IntFlag{
						Name:  "n-epochs",
						Usage: "エポック数",
						Value: 3,
					},
					&cli.FloatFlag{
						Name:  "lr",
						Usage: "学習率",
						Value: 1e-5,
					},
				},
				Action: commands.TrainAction,
			},
			{
				Name:  "dataset",
				Usage: "データセットスナップショット管理コマンド",
				Commands: []*cli.Command{
					{
						Name:  "download",
						Usage: "スナップショットをハブから取得",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.StringFlag{
								Name:     "dataset-name",
								Usage:    "データセット識別子",
								Required: true,
							},
							&cli.BoolFlag{
								Name:  "force",
								Usage: "既存のスナップショットがあっても再取得",
							},
						},
						Action: commands.DatasetDownloadAction,
					},
					{
						Name:  "inspect",
						Usage: "ローカルスナップショットのクラスとスプリットを表示",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.StringFlag{
								Name:     "dataset-name",
								Usage:    "データセット識別子",
								Required: true,
							},
						},
						Action: commands.DatasetInspectAction,
					},
				},
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
