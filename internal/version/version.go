package version

// Version is overridden at build time with
// -ldflags "-X github.com/alvmarrod/newsapi-requester/internal/version.Version=x.y.z"
var Version = "0.1.0-dev"
