package cdp

import (
	"context"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/wayfarer/api/schemas"
)

// applyPersona sets the user agent, languages and viewport of a target.
func applyPersona(persona schemas.Persona, logger *zap.Logger) chromedp.Action {
	return chromedp.Tasks{
		setUserAgent(persona, logger),
		setAcceptLanguage(persona, logger),
		setViewport(persona, logger),
	}
}

func setUserAgent(persona schemas.Persona, logger *zap.Logger) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if persona.UserAgent == "" {
			return nil
		}
		override := emulation.SetUserAgentOverride(persona.UserAgent).
			WithAcceptLanguage(strings.Join(persona.Languages, ","))
		if err := override.Do(ctx); err != nil {
			logger.Error("Failed to set user agent override", zap.Error(err))
			return fmt.Errorf("persona: failed to set user agent: %w", err)
		}
		return nil
	})
}

func setAcceptLanguage(persona schemas.Persona, logger *zap.Logger) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		header := acceptLanguage(persona.Languages)
		if header == "" {
			return nil
		}
		headers := network.Headers{"Accept-Language": header}
		if err := network.SetExtraHTTPHeaders(headers).Do(ctx); err != nil {
			logger.Error("Failed to set extra HTTP headers", zap.Error(err))
			return fmt.Errorf("persona: failed to set headers: %w", err)
		}
		return nil
	})
}

func setViewport(persona schemas.Persona, logger *zap.Logger) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if persona.Width <= 0 || persona.Height <= 0 {
			return nil
		}
		orientation := emulation.OrientationTypeLandscapePrimary
		if persona.Height > persona.Width {
			orientation = emulation.OrientationTypePortraitPrimary
		}
		err := emulation.SetDeviceMetricsOverride(persona.Width, persona.Height, 1.0, false).
			WithScreenOrientation(&emulation.ScreenOrientation{Type: orientation}).
			Do(ctx)
		if err != nil {
			logger.Error("Failed to set device metrics", zap.Error(err))
			return fmt.Errorf("persona: failed to set viewport: %w", err)
		}
		return nil
	})
}

// acceptLanguage formats languages with descending quality values.
func acceptLanguage(languages []string) string {
	if len(languages) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(languages[0])
	for i := 1; i < len(languages); i++ {
		q := 1.0 - float64(i)*0.1
		if q < 0.7 {
			q = 0.7
		}
		fmt.Fprintf(&b, ",%s;q=%.1f", languages[i], q)
	}
	return b.String()
}
