package config

import "net/url"

const redacted = "***"

// Redacted returns a copy of c with secrets masked, for logging.
func (c *Config) Redacted() Config {
	out := *c
	out.Server.CORSOrigins = append([]string(nil), c.Server.CORSOrigins...)

	redact(&out.Solana.MasterKey)
	redact(&out.Secrets.Passphrase)
	redact(&out.Archive.AccessKey)
	redact(&out.Archive.SecretKey)

	out.Storage.PostgresDSN = redactURL(c.Storage.PostgresDSN)
	out.Redis.URL = redactURL(c.Redis.URL)
	out.ClickHouse.DSN = redactURL(c.ClickHouse.DSN)
	return out
}

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

// redactURL masks the password of a URL-style DSN. Anything that does not
// parse as a URL is masked whole.
func redactURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return redacted
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), redacted)
	}
	return u.String()
}
