package security

import (
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// ErrBlockedURL は取得先として許可されないURLを表す。
// 再試行しても結果は変わらないため、呼び出し側は恒久的な失敗として扱う。
var ErrBlockedURL = errors.New("blocked url")

// maxRedirects はフィード・記事ページ・調査APIの取得で追跡するリダイレクトの上限。
const maxRedirects = 5

// reservedPrefixes はIsGlobalUnicastで除外されない非公開のIPv4範囲。
var reservedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),     // このネットワーク
	netip.MustParsePrefix("100.64.0.0/10"), // キャリアグレードNAT
}

// FetchPolicy は外部取得を許可する宛先の条件。
type FetchPolicy struct {
	// AllowedPorts はURLに明示できるポート。空の場合は80と443。
	AllowedPorts []int
	// BlockedHostSuffixes はこのサフィックスで終わるホスト名（またはそのもの）を拒否する。
	BlockedHostSuffixes []string
}

// DefaultFetchPolicy は標準ポートの公開サイトだけを許可する。
var DefaultFetchPolicy = FetchPolicy{
	AllowedPorts:        []int{80, 443},
	BlockedHostSuffixes: []string{"localhost", "local", "internal", "home.arpa"},
}

// URLGuard はフィードのリンクやソースURLを取得前に検証し、
// 内部ネットワークへ到達しないHTTPクライアントを生成する。
type URLGuard struct {
	policy FetchPolicy
}

// NewURLGuard は指定したポリシーのURLGuardを生成する。
func NewURLGuard(policy FetchPolicy) *URLGuard {
	if len(policy.AllowedPorts) == 0 {
		policy.AllowedPorts = DefaultFetchPolicy.AllowedPorts
	}
	return &URLGuard{policy: policy}
}

// NewSafeClient はsafeurlのダイヤラー検証付きクライアントを返す。
// 名前解決後のIPアドレスはsafeurlが検証し、リダイレクト先のURLはValidateURLで検証する。
func (g *URLGuard) NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("http", "https").
		SetAllowedPorts(g.policy.AllowedPorts...).
		Build()

	client := safeurl.Client(config).Client
	client.CheckRedirect = g.checkRedirect
	return client
}

func (g *URLGuard) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("リダイレクトが多すぎます: %d回", len(via))
	}
	return g.ValidateURL(req.URL.String())
}

// ValidateURL は名前解決をせずにURLを検証する。
// 拒否した場合はErrBlockedURLをラップしたエラーを返す。
func (g *URLGuard) ValidateURL(rawURL string) error {
	if strings.TrimSpace(rawURL) == "" {
		return fmt.Errorf("%w: URLが空です", ErrBlockedURL)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: URLを解析できません: %v", ErrBlockedURL, err)
	}
	if scheme := strings.ToLower(u.Scheme); scheme != "http" && scheme != "https" {
		return fmt.Errorf("%w: 許可されていないスキームです: %q", ErrBlockedURL, u.Scheme)
	}
	if u.User != nil {
		return fmt.Errorf("%w: 認証情報を含むURLは取得しません", ErrBlockedURL)
	}

	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return fmt.Errorf("%w: ホストがありません", ErrBlockedURL)
	}
	if port := u.Port(); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil || !slices.Contains(g.policy.AllowedPorts, n) {
			return fmt.Errorf("%w: 許可されていないポートです: %s", ErrBlockedURL, port)
		}
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if isInternalAddr(addr) {
			return fmt.Errorf("%w: 内部アドレスです: %s", ErrBlockedURL, addr)
		}
		return nil
	}

	for _, suffix := range g.policy.BlockedHostSuffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return fmt.Errorf("%w: 内部ホスト名です: %s", ErrBlockedURL, host)
		}
	}
	return nil
}

// isInternalAddr は公開インターネット上のユニキャストでないアドレスを判定する。
// IPv4射影アドレスはIPv4として扱う。
func isInternalAddr(addr netip.Addr) bool {
	addr = addr.Unmap().WithZone("")
	if !addr.IsGlobalUnicast() || addr.IsPrivate() {
		return true
	}
	for _, prefix := range reservedPrefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}
