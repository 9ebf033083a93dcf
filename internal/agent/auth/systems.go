package auth

import "time"

// BuiltinSystems 是内置的业务系统表。新增系统只需在这里加一条配置。
func BuiltinSystems() []Config {
	return []Config{
		{
			SystemID:     "user_center",
			Name:         "用户中心",
			URLPattern:   `^https?://[^/]*user[^/]*\.[^/]+/api(/|\?|$)`,
			HeaderName:   "X-Auth-Token",
			TokenPattern: `([A-Za-z0-9]{32,})`,
			Rules:        []Rule{MinLength(32), Alphanumeric()},
			Expiry:       2 * time.Hour,
		},
		{
			SystemID:     "data_platform",
			Name:         "数据平台",
			URLPattern:   `^https?://[^/]*data[^/]*\.[^/]+/api/`,
			HeaderName:   "Access-Token",
			TokenPattern: `([A-Fa-f0-9]{64})`,
			Rules:        []Rule{ExactLength(64), HexDigits()},
			Expiry:       30 * time.Minute,
		},
		{
			SystemID:     "business",
			Name:         "业务系统",
			URLPattern:   `^https?://[^/]*business[^/]*\.[^/]+/`,
			HeaderName:   "Authentication",
			TokenPattern: `Token\s+([A-Za-z0-9+/=]{40,})`,
			Rules:        []Rule{Base64Charset(), MinLength(40)},
			Expiry:       20 * time.Minute,
		},
		{
			SystemID:     "bi",
			Name:         "BI 系统",
			URLPattern:   `^https?://bi\.example\.com(:80)?/`,
			HeaderName:   "Cookie",
			TokenPattern: `(.+)`,
			Rules:        []Rule{KeyValueField("x_login_pk")},
			Expiry:       time.Hour,
		},
		{
			SystemID:     "drs",
			Name:         "DRS 系统",
			URLPattern:   `^https?://drs\.example\.com(:80)?/`,
			HeaderName:   "Cookie",
			TokenPattern: `(.+)`,
			Rules:        []Rule{KeyValueField("pdp_cqdrs_session")},
			Expiry:       20 * time.Minute,
		},
		{
			// 门户的 Authorization 形如 "Bearer xxx"，整体作为 token
			SystemID:     "governance",
			Name:         "三级治理中心门户",
			URLPattern:   `^http://portal\.example\.com:8080/api/`,
			HeaderName:   "Authorization",
			TokenPattern: `(.+)`,
			Rules:        []Rule{MinLength(11)},
			Expiry:       30 * time.Minute,
		},
	}
}
