package server

import (
	"context"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
)

// SocialsConfig controls the profile existence check behind
// GET /users/socials/check.
type SocialsConfig struct {
	// ProfileURLs maps a platform to the prefix a handle is appended to.
	ProfileURLs map[string]string
	Timeout     time.Duration
	Client      *http.Client
}

var defaultProfileURLs = map[string]string{
	"x":        "https://twitter.com/",
	"telegram": "https://t.me/",
}

var handlePattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,64}$`)

type SocialCheckResponse struct {
	Platform string `json:"platform"`
	Username string `json:"username"`
	URL      string `json:"url"`
	Valid    bool   `json:"valid"`
}

type socialChecker struct {
	urls    map[string]string
	timeout time.Duration
	client  *http.Client
}

func newSocialChecker(cfg SocialsConfig) *socialChecker {
	urls := cfg.ProfileURLs
	if len(urls) == 0 {
		urls = defaultProfileURLs
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{
			Timeout: timeout,
			// a redirect usually lands on a login or "not found" page
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		}
	}
	return &socialChecker{urls: urls, timeout: timeout, client: client}
}

func (c *socialChecker) platforms() []string {
	out := make([]string, 0, len(c.urls))
	for p := range c.urls {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Check sends a HEAD request for the profile page. Only a 200 counts as an
// existing handle; transport failures report false.
func (c *socialChecker) Check(ctx context.Context, platform, username string) (SocialCheckResponse, error) {
	platform = strings.ToLower(strings.TrimSpace(platform))
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	prefix, ok := c.urls[platform]
	if !ok {
		return SocialCheckResponse{}, newAPIError(http.StatusBadRequest, "bad_request", "unsupported platform", map[string]any{"platforms": c.platforms()})
	}
	if !handlePattern.MatchString(username) {
		return SocialCheckResponse{}, newAPIError(http.StatusBadRequest, "bad_request", "username must be 1-64 letters, digits or underscores", nil)
	}
	out := SocialCheckResponse{Platform: platform, Username: username, URL: prefix + username}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, out.URL, nil)
	if err != nil {
		return out, nil
	}
	res, err := c.client.Do(req)
	if err != nil {
		return out, nil
	}
	res.Body.Close()
	out.Valid = res.StatusCode == http.StatusOK
	return out, nil
}

func registerSocials(api huma.API, cfg SocialsConfig) {
	checker := newSocialChecker(cfg)
	huma.Register(api, huma.Operation{
		OperationID: "check-social-username",
		Method:      http.MethodGet,
		Path:        "/users/socials/check",
		Summary:     "Check that a social handle exists",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Platform string `query:"platform" required:"true"`
		Username string `query:"username" required:"true"`
	}) (*struct{ Body SocialCheckResponse }, error) {
		res, err := checker.Check(ctx, input.Platform, input.Username)
		if err != nil {
			return nil, err
		}
		return &struct{ Body SocialCheckResponse }{Body: res}, nil
	})
}
