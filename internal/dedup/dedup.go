// Package dedup は取り込み済み記事との重複判定を提供する。
package dedup

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/hitoshi/newsdesk/internal/model"
	"github.com/hitoshi/newsdesk/internal/repository"
)

// DefaultSimilarityThreshold は類似記事とみなすトライグラム類似度の既定値。
const DefaultSimilarityThreshold = 0.3

// Deduplicator は候補記事が取り込み済みかを判定する。
// 判定は3つの独立したシグナルのいずれか1つの一致で重複とする:
//  1. 正規化URL（クエリとフラグメントを除去し小文字化）
//  2. タイトル（大文字小文字を区別しない完全一致）
//  3. 本文ハッシュ（小文字化・前後空白除去した本文のSHA-256）
type Deduplicator struct {
	articles repository.ArticleRepository
	logger   *slog.Logger
}

// NewDeduplicator はDeduplicatorの新しいインスタンスを生成する。
func NewDeduplicator(articles repository.ArticleRepository, logger *slog.Logger) *Deduplicator {
	return &Deduplicator{articles: articles, logger: logger}
}

// IsDuplicate は候補記事が既存記事と重複するかを判定する。
// 一致したシグナルを最初に見つけた時点でtrueを返す。
func (d *Deduplicator) IsDuplicate(ctx context.Context, sourceURL, title, content string) (bool, error) {
	if normalized := NormalizeURL(sourceURL); normalized != "" {
		found, err := d.articles.ExistsByNormalizedURL(ctx, normalized)
		if err != nil {
			return false, fmt.Errorf("URLによる重複判定に失敗: %w", err)
		}
		if found {
			d.logDuplicate("url", sourceURL, title)
			return true, nil
		}
	}

	if t := strings.TrimSpace(title); t != "" {
		found, err := d.articles.ExistsByTitle(ctx, t)
		if err != nil {
			return false, fmt.Errorf("タイトルによる重複判定に失敗: %w", err)
		}
		if found {
			d.logDuplicate("title", sourceURL, title)
			return true, nil
		}
	}

	if strings.TrimSpace(content) != "" {
		found, err := d.articles.ExistsByContentHash(ctx, ContentHash(content))
		if err != nil {
			return false, fmt.Errorf("本文ハッシュによる重複判定に失敗: %w", err)
		}
		if found {
			d.logDuplicate("content_hash", sourceURL, title)
			return true, nil
		}
	}

	return false, nil
}

func (d *Deduplicator) logDuplicate(signal, sourceURL, title string) {
	d.logger.Debug("重複記事を検出しました",
		slog.String("signal", signal),
		slog.String("url", sourceURL),
		slog.String("title", title),
	)
}

// FindSimilarArticles はタイトルが似た公開済み記事を返す。重複判定には使わない。
func (d *Deduplicator) FindSimilarArticles(ctx context.Context, title, excludeID string, limit int) ([]model.SimilarArticle, error) {
	if strings.TrimSpace(title) == "" || limit <= 0 {
		return nil, nil
	}
	similar, err := d.articles.FindSimilar(ctx, title, excludeID, DefaultSimilarityThreshold, limit)
	if err != nil {
		return nil, fmt.Errorf("類似記事の検索に失敗: %w", err)
	}
	return similar, nil
}

// NormalizeURL はクエリ文字列とフラグメントを除去し、小文字化したURLを返す。
// パースできないURLは同じ規則で文字列として処理する。
func NormalizeURL(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ""
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		if i := strings.IndexAny(rawURL, "?#"); i >= 0 {
			rawURL = rawURL[:i]
		}
		return strings.ToLower(rawURL)
	}

	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""
	return strings.ToLower(u.String())
}

// ContentHash は小文字化し前後の空白を除去した本文のSHA-256（16進文字列）を返す。
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(content))))
	return fmt.Sprintf("%x", sum)
}
