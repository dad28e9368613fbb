package config

type RedisConfig interface {
	GetRedisAddr() string
	GetRedisPassword() string
	GetRedisDB() int
	GetRedisKeyPrefix() string
}

type RedisSettings struct {
	Addr      string `yaml:"addr" validate:"omitempty,hostname_port"`
	Password  Secret `yaml:"password"`
	DB        int    `yaml:"db" validate:"gte=0"`
	KeyPrefix string `yaml:"key_prefix"`
}

func (c *mainConfig) GetRedisAddr() string {
	return c.s.Redis.Addr
}

func (c *mainConfig) GetRedisPassword() string {
	return c.s.Redis.Password.Reveal()
}

func (c *mainConfig) GetRedisDB() int {
	return c.s.Redis.DB
}

func (c *mainConfig) GetRedisKeyPrefix() string {
	return c.s.Redis.KeyPrefix
}
