package config

import (
	"log"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port          int    `envconfig:"port" default:"8080"`
	DatabaseURL   string `envconfig:"database_url" required:"true"`
	JWTSecret     string `envconfig:"jwt_secret" required:"true"`
	AllowOrigins  string `envconfig:"allow_origins" default:"*"`
	AdminEmail    string `envconfig:"admin_email"`
	AdminPassword string `envconfig:"admin_password"`
	AdminFullName string `envconfig:"admin_full_name"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(".env"); err != nil {
		log.Println("Warning: .env file not found, reading from system environment variables")
	}

	c := &Config{}
	if err := envconfig.Process("bookline", c); err != nil {
		return nil, err
	}
	return c, nil
}
