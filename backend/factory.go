package backend

import "fmt"

// CreateProvider dispatches on config.Provider to construct the right
// backend, applying each provider's documented defaults.
func CreateProvider(config StorageConfig) (Provider, error) {
	switch config.Provider {
	case "s3":
		region := config.Params["region"]
		if region == "" {
			region = "us-east-1"
		}
		prefix := config.Params["path_prefix"]
		if prefix == "" {
			prefix = "klioreader/"
		}
		return NewS3Provider(S3Config{
			Endpoint:   config.Params["endpoint"],
			Region:     region,
			Bucket:     config.Params["bucket"],
			AccessKey:  config.Params["access_key"],
			SecretKey:  config.Params["secret_key"],
			PathPrefix: prefix,
		}), nil

	case "webdav":
		prefix := config.Params["path_prefix"]
		if prefix == "" {
			prefix = "/klioreader/"
		}
		return NewWebDavProvider(WebDavConfig{
			URL:        config.Params["url"],
			Username:   config.Params["username"],
			Password:   config.Params["password"],
			PathPrefix: prefix,
		}), nil

	case "gdrive":
		return NewGDriveProvider(GDriveConfig{
			ClientID:     config.Params["client_id"],
			ClientSecret: config.Params["client_secret"],
			AccessToken:  config.Params["access_token"],
			RefreshToken: config.Params["refresh_token"],
			FolderID:     config.Params["folder_id"],
		}), nil

	default:
		return nil, fmt.Errorf("Unknown provider: %s", config.Provider)
	}
}
