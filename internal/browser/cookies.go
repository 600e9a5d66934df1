package browser

import (
	"github.com/go-rod/rod/lib/proto"

	"github.com/sells-group/qa-scraper/internal/model"
)

func toCookieParams(cookies []model.Cookie) []*proto.NetworkCookieParam {
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		if c.Name == "" {
			continue
		}
		params = append(params, &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: proto.NetworkCookieSameSite(c.SameSite),
			Expires:  proto.TimeSinceEpoch(c.Expires),
		})
	}
	return params
}

func fromNetworkCookies(cookies []*proto.NetworkCookie) []model.Cookie {
	out := make([]model.Cookie, 0, len(cookies))
	for _, c := range cookies {
		if c == nil {
			continue
		}
		mc := model.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: string(c.SameSite),
		}
		// Session cookies report -1.
		if !c.Session && c.Expires > 0 {
			mc.Expires = float64(c.Expires)
		}
		out = append(out, mc)
	}
	return out
}
