// Package security はスクレイピング先へのアクセス制御と取得テキストの無害化を提供する。
package security

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
	"golang.org/x/net/publicsuffix"
)

// URLGuard は外部サイトへのリクエストを検証する。
// スクレイパーのHTTPセッションとチャットボットAPIクライアントで使用される。
type URLGuard interface {
	// NewSafeClient はプライベートIP等への接続をダイヤル時に拒否するHTTPクライアントを生成する。
	NewSafeClient(timeout time.Duration) *http.Client

	// ValidateURL はリクエスト前にURLを静的に検証する。
	ValidateURL(rawURL string) error
}

var allowedSchemes = []string{"http", "https"}

// blockedNetworks はValidateURLで拒否するネットワーク範囲。
var blockedNetworks []*net.IPNet

func init() {
	for _, cidr := range []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		"169.254.0.0/16", // メタデータIPを含む
		"0.0.0.0/8",
		"::1/128",
		"fe80::/10",
		"fc00::/7",
	} {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		blockedNetworks = append(blockedNetworks, network)
	}
}

// hostGuard はURLGuardの実装。
// allowedDomainsが空でない場合、登録可能ドメイン（eTLD+1）が一致するホストのみ許可する。
type hostGuard struct {
	allowedDomains map[string]struct{}
}

// NewURLGuard はURLGuardを生成する。
// allowedDomainsには "pararius.com" のような登録可能ドメインを指定する。
func NewURLGuard(allowedDomains ...string) *hostGuard {
	g := &hostGuard{allowedDomains: make(map[string]struct{}, len(allowedDomains))}
	for _, d := range allowedDomains {
		g.allowedDomains[strings.ToLower(d)] = struct{}{}
	}
	return g
}

// NewSafeClient はsafeurlでラップしたHTTPクライアントを生成する。
// DNS解決後のIPもDialerのControlフックで検証される。
func (g *hostGuard) NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(80, 443).
		Build()

	return safeurl.Client(config).Client
}

// ValidateURL はスキーム、ホスト、IP範囲、許可ドメインを検証する。
func (g *hostGuard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("disallowed scheme: %s (allowed: %v)", scheme, allowedSchemes)
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}

	if ip := net.ParseIP(host); ip != nil {
		for _, network := range blockedNetworks {
			if network.Contains(ip) {
				return fmt.Errorf("blocked IP address: %s", ip.String())
			}
		}
		if len(g.allowedDomains) > 0 {
			return fmt.Errorf("IP address hosts are not allowed: %s", host)
		}
		return nil
	}

	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return fmt.Errorf("blocked host: %s", host)
	}

	if len(g.allowedDomains) == 0 {
		return nil
	}

	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return fmt.Errorf("cannot determine registrable domain of %s: %w", host, err)
	}
	if _, ok := g.allowedDomains[domain]; !ok {
		return fmt.Errorf("host not in allowlist: %s", host)
	}

	return nil
}
