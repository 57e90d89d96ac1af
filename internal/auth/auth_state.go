package auth

import (
	"net/http"
	"net/url"
)

// 視為已登入的 cookie 名稱，依序檢查
var TokenCookieNames = []string{"token", "authToken", "accessToken", "jwt"}

// CookieSource *http.Request 直接滿足此介面
type CookieSource interface {
	Cookie(name string) (*http.Cookie, error)
}

// AuthState 只檢查 cookie 是否存在且非空，不驗證 token 內容與效期
type AuthState struct {
	src CookieSource
}

func NewAuthState(src CookieSource) *AuthState {
	return &AuthState{src: src}
}

func (a *AuthState) IsAuthenticated() bool {
	_, ok := a.Token()
	return ok
}

// Token 第一個非空的登入 cookie 值
func (a *AuthState) Token() (string, bool) {
	if a == nil || a.src == nil {
		return "", false
	}
	for _, name := range TokenCookieNames {
		c, err := a.src.Cookie(name)
		if err != nil || c == nil {
			continue
		}
		if c.Value != "" {
			return c.Value, true
		}
	}
	return "", false
}

// JarSource 將 http.CookieJar 轉成 CookieSource
type JarSource struct {
	Jar http.CookieJar
	URL *url.URL
}

func (j JarSource) Cookie(name string) (*http.Cookie, error) {
	if j.Jar == nil || j.URL == nil {
		return nil, http.ErrNoCookie
	}
	for _, c := range j.Jar.Cookies(j.URL) {
		if c.Name == name {
			return c, nil
		}
	}
	return nil, http.ErrNoCookie
}
