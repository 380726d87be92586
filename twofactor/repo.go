package twofactor

// Repo stores at most one pending challenge, mirroring the web client's
// tab-session keys (2fa_user_id, temp_token, is_awaiting_2fa). Get returns a
// zero Challenge when none is stored - absence is not an error.
type Repo interface {
	Put(challenge Challenge) error
	Get() (Challenge, error)
	Clear() error
}
