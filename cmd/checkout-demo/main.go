package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	storefront "github.com/harborline/storefront-go"
	"github.com/harborline/storefront-go/pkg/config"
	"github.com/harborline/storefront-go/pkg/env"
	"github.com/harborline/storefront-go/pkg/events"
	"github.com/harborline/storefront-go/pkg/logger"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "checkout-demo"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "checkout-demo",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	widget, err := storefront.New(cfg,
		storefront.WithLogger(logg),
		storefront.WithMetrics(prometheus.NewRegistry()),
	)
	if err != nil {
		logg.Error(context.Background(), "failed to build widget", err)
		os.Exit(1)
	}
	defer func() {
		if err := widget.Close(); err != nil {
			logg.Error(context.Background(), "error closing widget", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cartID := env.Get("DEMO_CART_ID", "")
	if cartID == "" {
		logg.Error(ctx, "DEMO_CART_ID is required", fmt.Errorf("missing cart id"))
		os.Exit(1)
	}

	go watchEvents(ctx, widget, logg)

	cart, err := widget.LoadCart(ctx, cartID)
	if err != nil {
		logg.Error(logg.WithCartID(ctx, cartID), "failed to load cart", err)
		os.Exit(1)
	}

	fmt.Printf("cart %s — %d item(s)\n", cart.ID, len(cart.Items))
	for _, item := range cart.Items {
		fmt.Printf("  %dx %s  %s\n", item.Quantity, item.Name, item.Subtotal.Display())
	}
	for _, row := range cart.SummaryRows() {
		if row.Pending {
			fmt.Printf("  %s: calculated at a later stage\n", row.Kind)
			continue
		}
		fmt.Printf("  %s: %s\n", row.Kind, row.Amount.Display())
	}

	fmt.Printf("checkout starts at step %q\n", widget.Step())
	<-ctx.Done()
}

func watchEvents(ctx context.Context, widget *storefront.Widget, logg *logger.Logger) {
	for _, topic := range []string{
		events.TopicStepChanged,
		events.TopicCartUpdated,
		events.TopicAuthChanged,
		events.TopicOrderResult,
		events.TopicCheckoutExited,
	} {
		messages, err := widget.Subscribe(ctx, topic)
		if err != nil {
			logg.Error(ctx, "failed to subscribe", err)
			return
		}
		go func(topic string) {
			for msg := range messages {
				fmt.Printf("event %s: %s\n", topic, string(msg.Payload))
				msg.Ack()
			}
		}(topic)
	}
	<-ctx.Done()
}
