package main

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quoter.com/pkg/bbo"
	"quoter.com/pkg/kafka"
	"quoter.com/pkg/market"
	"quoter.com/pkg/nats"
	"quoter.com/pkg/quotebook"
	"quoter.com/pkg/tradestore"
)

// closer 退出时逆序执行
type closer []func()

func (c *closer) add(f func()) { *c = append(*c, f) }

func (c closer) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func main() {
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalf("[Quoter] load config: %v", err)
	}

	// 1. 报价引擎
	// -------------------------------------------------------------------------
	engineCfg := quotebook.DefaultEngineConfig()
	ids, err := quotebook.NewSnowflakeIDGenerator(cfg.SnowflakeNode)
	if err != nil {
		log.Fatalf("[Quoter] snowflake node %d: %v", cfg.SnowflakeNode, err)
	}
	engineCfg.Manager.IDs = ids
	engine := quotebook.NewEngine(engineCfg)

	var shutdown closer
	defer shutdown.run()

	engine.OnEvent(func(e quotebook.Event) {
		switch e.Type {
		case quotebook.EventTrade:
			log.Printf("[Trade] %s", e.Trade)
		case quotebook.EventRejected:
			log.Printf("[Engine] rejected %s/%s: %v", e.Symbol, e.QuoteID, e.Err)
		}
	})

	// 2. 下游：广播、Redis、NATS、Kafka、MySQL
	// -------------------------------------------------------------------------
	broadcaster := market.NewBroadcaster()
	engine.OnEvent(broadcaster.Handler())
	shutdown.add(broadcaster.Close)

	if cfg.RedisAddr != "" {
		store := bbo.NewRedisStore(bbo.DefaultRedisConfig(cfg.RedisAddr))
		if err := store.Ping(context.Background()); err != nil {
			log.Printf("[Quoter] redis unavailable, bbo cache disabled: %v", err)
		} else {
			engine.OnEvent(store.Handler())
			shutdown.add(func() { store.Close() })
			log.Printf("[Quoter] bbo cache -> redis %s", cfg.RedisAddr)
		}
	}

	if cfg.NATSURL != "" {
		pub, err := nats.NewPublisher(cfg.NATSURL)
		if err != nil {
			log.Fatalf("[Quoter] nats publisher: %v", err)
		}
		engine.OnEvent(pub.Handler())
		shutdown.add(pub.Close)

		sub, err := nats.NewSubscriber(cfg.NATSURL, nats.FeedHandler(engine.FeedHandler()))
		if err != nil {
			log.Fatalf("[Quoter] nats subscriber: %v", err)
		}
		if err := sub.SubscribeQueue(nats.SubjectFeed, "quoter"); err != nil {
			log.Fatalf("[Quoter] %v", err)
		}
		shutdown.add(func() { sub.Close() })
		log.Printf("[Quoter] nats %s: feed=%s", cfg.NATSURL, nats.SubjectFeed)
	}

	topics := kafka.DefaultEventTopics()
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(kafka.DefaultProducerConfig(cfg.KafkaBrokers), topics)
		if err != nil {
			log.Fatalf("[Quoter] %v", err)
		}
		engine.OnEvent(producer.Handler())
		shutdown.add(func() {
			if err := producer.Close(); err != nil {
				log.Printf("[Quoter] kafka producer close: %v", err)
			}
		})

		feed, err := kafka.NewConsumer(
			kafka.DefaultConsumerConfig(cfg.KafkaBrokers, cfg.KafkaGroup, []string{cfg.FeedTopic}),
			kafka.FeedHandler(engine.FeedHandler()),
		)
		if err != nil {
			log.Fatalf("[Quoter] %v", err)
		}
		feed.Start()
		shutdown.add(func() { feed.Stop() })
		log.Printf("[Quoter] kafka %v: feed=%s", cfg.KafkaBrokers, cfg.FeedTopic)
	}

	if cfg.MySQLDSN != "" {
		db, err := tradestore.Open(cfg.MySQLDSN)
		if err != nil {
			log.Fatalf("[Quoter] %v", err)
		}
		writer := tradestore.NewWriter(tradestore.NewMySQLTradeRepository(db), tradestore.DefaultWriterConfig())
		writer.Start()
		shutdown.add(writer.Stop)

		if len(cfg.KafkaBrokers) > 0 {
			// 有 Kafka 时从成交 topic 落库，与引擎解耦
			journal, err := kafka.NewConsumer(
				kafka.DefaultConsumerConfig(cfg.KafkaBrokers, cfg.KafkaGroup+"-journal", []string{topics.Trades}),
				kafka.FeedHandler(writer.HandleMessage),
			)
			if err != nil {
				log.Fatalf("[Quoter] %v", err)
			}
			journal.Start()
			shutdown.add(func() { journal.Stop() })
		} else {
			engine.OnEvent(writer.Handler())
		}
		log.Println("[Quoter] trade journal -> mysql")
	}

	// 3. 启动
	// -------------------------------------------------------------------------
	ctx, cancel := context.WithCancel(context.Background())
	engine.Start(ctx)
	shutdown.add(engine.Stop)
	shutdown.add(cancel)
	log.Println("[Quoter] engine started")

	if cfg.Simulate {
		simulate(ctx, engine, broadcaster, cfg, &shutdown)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Printf("[Quoter] shutting down: %+v", engine.GetStats())
}

// simulate 每个标的一个报价源，外加定时买入
func simulate(ctx context.Context, engine *quotebook.Engine, b *market.Broadcaster, cfg Config, shutdown *closer) {
	for i, symbol := range cfg.Symbols {
		ticker := market.NewTicker(symbol, 100*float64(i+1), 100*time.Millisecond)
		quotes := ticker.Start()
		shutdown.add(ticker.Stop)

		go func() {
			for q := range quotes {
				if !engine.SubmitQuote(q) {
					log.Printf("[Simulation] queue full, dropped quote %s", q.ID)
				}
			}
		}()
	}

	// 打印最优报价
	tops := b.Subscribe(cfg.Symbols...)
	go func() {
		last := make(map[string]time.Time)
		for top := range tops {
			if time.Since(last[top.Symbol]) < time.Second {
				continue
			}
			last[top.Symbol] = time.Now()
			if top.Empty {
				log.Printf("[BBO] %s empty", top.Symbol)
				continue
			}
			log.Printf("[BBO] %s best=%.4f x %d (%d quotes)", top.Symbol, top.BestPrice, top.BestVolume, top.Quotes)
		}
	}()

	go func() {
		r := rand.New(rand.NewSource(time.Now().UnixNano()))
		tk := time.NewTicker(cfg.TradeInterval)
		defer tk.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-tk.C:
				symbol := cfg.Symbols[r.Intn(len(cfg.Symbols))]
				volume := 1 + r.Int63n(2000)
				if _, err := engine.ExecuteTrade(ctx, symbol, volume); err != nil {
					if errors.Is(err, quotebook.ErrEngineStopped) || errors.Is(err, context.Canceled) {
						return
					}
					log.Printf("[Simulation] trade %s x %d: %v", symbol, volume, err)
				}
			}
		}
	}()
}
