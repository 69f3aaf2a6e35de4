package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

type clientKey struct{}

type clientInfo struct {
	ip    string
	https bool
}

// ClientIPResolver определяет адрес клиента. X-Forwarded-For, X-Real-IP и
// X-Forwarded-Proto учитываются, только если соединение пришло от доверенного прокси.
type ClientIPResolver struct {
	trusted []netip.Prefix
}

// NewClientIPResolver принимает адреса и CIDR доверенных прокси.
// Пустой список значит, что заголовки прокси игнорируются.
func NewClientIPResolver(proxies []string) (*ClientIPResolver, error) {
	resolver := &ClientIPResolver{}
	for _, raw := range proxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if prefix, err := netip.ParsePrefix(raw); err == nil {
			resolver.trusted = append(resolver.trusted, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q", raw)
		}
		addr = addr.Unmap()
		resolver.trusted = append(resolver.trusted, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return resolver, nil
}

func (c *ClientIPResolver) isTrusted(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, prefix := range c.trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// Resolve возвращает адрес клиента. В X-Forwarded-For берется самый правый
// адрес, не принадлежащий доверенным прокси: левую часть цепочки пишет сам клиент.
func (c *ClientIPResolver) Resolve(r *http.Request) string {
	peer := remoteHost(r)
	peerAddr, err := netip.ParseAddr(peer)
	if err != nil || !c.isTrusted(peerAddr) {
		return peer
	}

	if values := r.Header.Values("X-Forwarded-For"); len(values) > 0 {
		hops := strings.Split(strings.Join(values, ","), ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
			if err != nil {
				return peer
			}
			if !c.isTrusted(hop) {
				return hop.Unmap().String()
			}
		}
	}

	if realIP, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
		return realIP.Unmap().String()
	}
	return peer
}

func (c *ClientIPResolver) isHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	peerAddr, err := netip.ParseAddr(remoteHost(r))
	if err != nil || !c.isTrusted(peerAddr) {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")), "https")
}

// ClientAddress кладет в контекст адрес клиента и схему исходного запроса
func ClientAddress(resolver *ClientIPResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info := clientInfo{ip: resolver.Resolve(r), https: resolver.isHTTPS(r)}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), clientKey{}, info)))
		})
	}
}

// ClientIP адрес, определенный ClientAddress. Без middleware это адрес соединения.
func ClientIP(r *http.Request) string {
	if info, ok := r.Context().Value(clientKey{}).(clientInfo); ok && info.ip != "" {
		return info.ip
	}
	return remoteHost(r)
}

// RequestIsHTTPS сообщает, пришел ли запрос клиента по TLS (напрямую или через доверенный прокси)
func RequestIsHTTPS(r *http.Request) bool {
	if info, ok := r.Context().Value(clientKey{}).(clientInfo); ok {
		return info.https
	}
	return r.TLS != nil
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
