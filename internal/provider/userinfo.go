package provider

import (
	"errors"
	"fmt"
	"strconv"
)

var ErrMissingSubject = errors.New("provider user info has no account id")

// Profile is the provider independent view of an authenticated user.
type Profile struct {
	ExternalID    string `json:"id"`
	Nickname      string `json:"nickname"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	ProfileImage  string `json:"profile_image"`
}

// Claims returns the profile fields carried in session access tokens.
func (p Profile) Claims() map[string]any {
	return map[string]any{
		"nickname":       p.Nickname,
		"email":          p.Email,
		"email_verified": p.EmailVerified,
		"profile_image":  p.ProfileImage,
	}
}

// GoogleUserInfo is the payload of the Google v2 userinfo endpoint.
type GoogleUserInfo struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Picture       string `json:"picture"`
}

// KakaoUserInfo is the payload of Kakao's /v2/user/me.
type KakaoUserInfo struct {
	ID           int64         `json:"id"`
	KakaoAccount *KakaoAccount `json:"kakao_account"`
}

type KakaoAccount struct {
	Email           string        `json:"email"`
	IsEmailVerified bool          `json:"is_email_verified"`
	Profile         *KakaoProfile `json:"profile"`
}

type KakaoProfile struct {
	Nickname          string `json:"nickname"`
	ProfileImageURL   string `json:"profile_image_url"`
	ThumbnailImageURL string `json:"thumbnail_image_url"`
}

// UserInfo holds exactly one provider payload, tagged by Provider.
type UserInfo struct {
	Provider Name
	Google   *GoogleUserInfo
	Kakao    *KakaoUserInfo
}

// Normalize maps the tagged payload onto a Profile, filling provider
// defaults for absent fields.
func (u UserInfo) Normalize() (Profile, error) {
	switch u.Provider {
	case Google:
		if u.Google == nil {
			return Profile{}, fmt.Errorf("google: %w", ErrMissingSubject)
		}
		return normalizeGoogle(*u.Google)
	case Kakao:
		if u.Kakao == nil {
			return Profile{}, fmt.Errorf("kakao: %w", ErrMissingSubject)
		}
		return normalizeKakao(*u.Kakao)
	default:
		return Profile{}, fmt.Errorf("%w: %q", ErrUnknownProvider, u.Provider)
	}
}

func normalizeGoogle(g GoogleUserInfo) (Profile, error) {
	if g.ID == "" {
		return Profile{}, fmt.Errorf("google: %w", ErrMissingSubject)
	}
	p := Profile{
		ExternalID:    g.ID,
		Nickname:      g.Name,
		Email:         g.Email,
		EmailVerified: g.VerifiedEmail,
		ProfileImage:  g.Picture,
	}
	if p.Nickname == "" {
		p.Nickname = Google.DefaultNickname()
	}
	return p, nil
}

func normalizeKakao(k KakaoUserInfo) (Profile, error) {
	if k.ID == 0 {
		return Profile{}, fmt.Errorf("kakao: %w", ErrMissingSubject)
	}
	p := Profile{ExternalID: strconv.FormatInt(k.ID, 10)}
	if acc := k.KakaoAccount; acc != nil {
		p.Email = acc.Email
		p.EmailVerified = acc.IsEmailVerified
		if acc.Profile != nil {
			p.Nickname = acc.Profile.Nickname
			p.ProfileImage = acc.Profile.ProfileImageURL
		}
	}
	if p.Nickname == "" {
		p.Nickname = Kakao.DefaultNickname()
	}
	return p, nil
}
