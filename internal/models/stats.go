package models

type TitleStat struct {
	Title     string `json:"title"`
	MediaID   string `json:"media_id,omitempty"`
	Year      int    `json:"year,omitempty"`
	PlayCount int    `json:"play_count"`
	TotalTime int64  `json:"total_time"`
}

type UserStat struct {
	UserName  string `json:"user_name"`
	PlayCount int    `json:"play_count"`
	TotalTime int64  `json:"total_time"`
}

type LocationStat struct {
	City      string `json:"city"`
	Country   string `json:"country"`
	PlayCount int    `json:"play_count"`
}

// UserDetailStats backs GET /users/:id/stats.
type UserDetailStats struct {
	PlayCount  int            `json:"play_count"`
	TotalTime  int64          `json:"total_time"`
	TopTitles  []TitleStat    `json:"top_titles"`
	Locations  []LocationStat `json:"locations"`
}

// DashboardStats backs GET /stats/dashboard.
type DashboardStats struct {
	TotalPlays     int            `json:"total_plays"`
	TotalTime      int64          `json:"total_time"`
	UniqueUsers    int            `json:"unique_users"`
	ActiveSessions int            `json:"active_sessions"`
	TopTitles      []TitleStat    `json:"top_titles"`
	TopUsers       []UserStat     `json:"top_users"`
	TopLocations   []LocationStat `json:"top_locations"`
}
