package app

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hitoshi/newsdesk/internal/model"
	"github.com/hitoshi/newsdesk/internal/security"
)

// defaultFetchInterval はfetch_interval未指定のソースに設定する取得間隔。
const defaultFetchInterval = 30 * time.Minute

// sourceURLGuard はフェッチ時と同じ条件でソースURLを登録前に検証する。
var sourceURLGuard = security.NewURLGuard(security.DefaultFetchPolicy)

// sourcesFile はseed-sourcesが読み込むYAMLの形式。
//
//	sources:
//	  - name: Valley Courier
//	    url: https://courier.example.com/feed.xml
//	    type: rss-full
//	    fetch_interval: 30m
//	    active: true
type sourcesFile struct {
	Sources []sourceEntry `yaml:"sources"`
}

type sourceEntry struct {
	Name          string `yaml:"name"`
	URL           string `yaml:"url"`
	Type          string `yaml:"type"`
	FetchInterval string `yaml:"fetch_interval"`
	Active        *bool  `yaml:"active"`
}

// LoadSources はYAMLからソース定義を読み込んで検証する。
// activeを省略したソースは有効として扱う。未知のキーはエラーにする。
func LoadSources(r io.Reader) ([]*model.Source, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var file sourcesFile
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("ソースが定義されていません")
		}
		return nil, fmt.Errorf("ソースファイルの解析に失敗: %w", err)
	}
	if len(file.Sources) == 0 {
		return nil, errors.New("ソースが定義されていません")
	}

	seen := make(map[string]bool, len(file.Sources))
	sources := make([]*model.Source, 0, len(file.Sources))
	for i, e := range file.Sources {
		s, err := e.toSource()
		if err != nil {
			return nil, fmt.Errorf("sources[%d]: %w", i, err)
		}
		if seen[s.URL] {
			return nil, fmt.Errorf("sources[%d]: URLが重複しています: %s", i, s.URL)
		}
		seen[s.URL] = true
		sources = append(sources, s)
	}
	return sources, nil
}

func (e sourceEntry) toSource() (*model.Source, error) {
	name := strings.TrimSpace(e.Name)
	if name == "" {
		return nil, errors.New("nameは必須です")
	}

	rawURL := strings.TrimSpace(e.URL)
	if err := sourceURLGuard.ValidateURL(rawURL); err != nil {
		return nil, fmt.Errorf("urlが不正です: %q: %w", e.URL, err)
	}

	sourceType := model.SourceType(strings.TrimSpace(e.Type))
	if !sourceType.Valid() {
		return nil, fmt.Errorf("typeが不正です: %q", e.Type)
	}

	interval := defaultFetchInterval
	if e.FetchInterval != "" {
		d, err := time.ParseDuration(e.FetchInterval)
		if err != nil || d < time.Minute {
			return nil, fmt.Errorf("fetch_intervalは1分以上の期間で指定してください: %q", e.FetchInterval)
		}
		interval = d
	}

	active := true
	if e.Active != nil {
		active = *e.Active
	}

	return &model.Source{
		Name:          name,
		URL:           rawURL,
		Type:          sourceType,
		IsActive:      active,
		FetchInterval: interval,
	}, nil
}
