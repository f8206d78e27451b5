package models

type ServerInfo struct {
	Name           string `json:"name"`
	UploadMaxBytes int64  `json:"upload_max_bytes"`
	UploadMaxFiles int    `json:"upload_max_files"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Username    string `json:"username"`
}
