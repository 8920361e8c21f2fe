package checker

import (
	"context"

	"github.com/alexanderramin/notifyprobe/internal/domain"
	"github.com/alexanderramin/notifyprobe/internal/roundtrip"
)

// sessionVantage samples through an already established session.
type sessionVantage struct {
	name domain.Vantage
	s    roundtrip.Session
}

func (v sessionVantage) Name() domain.Vantage { return v.name }

func (v sessionVantage) Fetch(ctx context.Context, id string) (domain.PublicView, error) {
	return v.s.GetNotification(ctx, id)
}

// reloginVantage authenticates the owner again in a fresh session on first
// use, so state held only by the original session cannot mask lost data.
type reloginVantage struct {
	sessions roundtrip.SessionFactory
	acct     domain.Account
	s        roundtrip.Session
}

func (v *reloginVantage) Name() domain.Vantage { return domain.VantageRelogin }

func (v *reloginVantage) Username() string { return v.acct.Username }

func (v *reloginVantage) session(ctx context.Context) (roundtrip.Session, error) {
	if v.s != nil {
		return v.s, nil
	}
	s := v.sessions()
	if err := s.Login(ctx, v.acct); err != nil {
		return nil, err
	}
	v.s = s
	return s, nil
}

func (v *reloginVantage) Fetch(ctx context.Context, id string) (domain.PublicView, error) {
	s, err := v.session(ctx)
	if err != nil {
		return domain.PublicView{}, err
	}
	return s.GetNotification(ctx, id)
}

func (v *reloginVantage) FetchUser(ctx context.Context) (domain.UserInfo, error) {
	s, err := v.session(ctx)
	if err != nil {
		return domain.UserInfo{}, err
	}
	return s.User(ctx)
}
