package biz

import (
	"fmt"
	"unicode/utf8"

	"media-dispatch-service/internal/conf"
	"media-dispatch-service/internal/constants"
	mediaErrors "media-dispatch-service/internal/errors"

	"github.com/shopspring/decimal"
)

// RateTable 一个版本的费率表
type RateTable struct {
	Version      string
	ImageFlat    int64           // 每张图片的固定积分
	AudioPerChar decimal.Decimal // 每个字符的音频积分
}

// Quote 一次计价结果
type Quote struct {
	MediaType   string
	Units       int // 图片为 1，音频为字符数
	Cost        int64
	RateVersion string
}

// CostCalculator 纯函数计价，费率表来自配置且带版本
type CostCalculator struct {
	tables map[string]*RateTable
	active string
}

// NewCostCalculator 从配置加载费率表
func NewCostCalculator(c *conf.Bootstrap) (*CostCalculator, error) {
	if c.Pricing == nil || len(c.Pricing.Rates) == 0 {
		return nil, fmt.Errorf("pricing config is nil")
	}
	calc := &CostCalculator{
		tables: make(map[string]*RateTable, len(c.Pricing.Rates)),
		active: c.Pricing.ActiveVersion,
	}
	for _, r := range c.Pricing.Rates {
		perChar, err := decimal.NewFromString(r.AudioPerChar)
		if err != nil {
			return nil, fmt.Errorf("pricing %s: invalid audio_per_char %q: %w", r.Version, r.AudioPerChar, err)
		}
		if r.ImageFlat < 0 || perChar.IsNegative() {
			return nil, fmt.Errorf("pricing %s: rates must not be negative", r.Version)
		}
		calc.tables[r.Version] = &RateTable{
			Version:      r.Version,
			ImageFlat:    r.ImageFlat,
			AudioPerChar: perChar,
		}
	}
	if calc.active == "" && len(c.Pricing.Rates) == 1 {
		calc.active = c.Pricing.Rates[0].Version
	}
	if _, ok := calc.tables[calc.active]; !ok {
		return nil, fmt.Errorf("pricing active_version %q not found", calc.active)
	}
	return calc, nil
}

// ActiveVersion 当前生效的费率版本
func (c *CostCalculator) ActiveVersion() string {
	return c.active
}

// Quote 按当前费率计价；content 为音频旁白文本
func (c *CostCalculator) Quote(mediaType, content string) (*Quote, error) {
	return c.QuoteVersion(c.active, mediaType, utf8.RuneCountInString(content))
}

// QuoteVersion 按指定费率版本计价
// image: 固定费率；audio: ceil(rate_per_char * chars)
func (c *CostCalculator) QuoteVersion(version, mediaType string, chars int) (*Quote, error) {
	table, ok := c.tables[version]
	if !ok {
		return nil, mediaErrors.UnknownPricing(version)
	}
	switch mediaType {
	case constants.MediaTypeImage:
		return &Quote{MediaType: mediaType, Units: 1, Cost: table.ImageFlat, RateVersion: version}, nil
	case constants.MediaTypeAudio:
		cost := table.AudioPerChar.Mul(decimal.NewFromInt(int64(chars))).Ceil()
		return &Quote{MediaType: mediaType, Units: chars, Cost: cost.IntPart(), RateVersion: version}, nil
	default:
		return nil, mediaErrors.Validation("unsupported media type %q", mediaType)
	}
}
