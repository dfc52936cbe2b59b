package app

import (
	"os"
	"strconv"
	"time"

	"imovia/internal/ai"
	"imovia/internal/auth"
	"imovia/internal/conversation"
	"imovia/internal/queue"
	"imovia/internal/repo"
	"imovia/internal/scheduling"
	"imovia/internal/services"
	"imovia/internal/webhook"
	"imovia/internal/whatsapp"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Services holds all application services
type Services struct {
	DB *gorm.DB

	AuthService *auth.Service

	UserRepo         *repo.UserRepository
	ConversationRepo *repo.ConversationRepository
	SchedulingRepo   *repo.SchedulingRepository
	QueueRepo        *repo.QueueRepository

	EmailService *services.EmailService

	Responder      *ai.Responder
	WhatsAppClient *whatsapp.Client

	ConversationEngine *conversation.Engine
	SchedulingEngine   *scheduling.Engine
	Queue              *queue.Queue
	Sweeper            *conversation.Sweeper
	DeadLetterMonitor  *queue.Monitor

	WebhookHandler *webhook.Handler
}

// NewServices creates the services container and wires the pipeline:
// webhook -> queue -> conversation engine -> responder/outbound.
func NewServices(db *gorm.DB) *Services {
	userRepo := repo.NewUserRepository(db)
	conversationRepo := repo.NewConversationRepository(db)
	schedulingRepo := repo.NewSchedulingRepository(db)
	queueRepo := repo.NewQueueRepository(db)

	authService := auth.NewService(userRepo)

	emailService, err := services.NewEmailService(userRepo, log.Logger)
	if err != nil {
		log.Warn().Err(err).Msg("email service disabled")
		emailService = nil
	}

	responder, err := ai.NewResponder(log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize AI responder")
	}

	whatsappClient, err := whatsapp.NewClient(log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize messaging gateway client")
	}

	conversationEngine := conversation.NewEngine(
		conversationRepo, userRepo, responder, whatsappClient, nil, log.Logger)

	var mailer scheduling.Mailer
	if emailService != nil {
		mailer = emailService
	}
	schedulingEngine := scheduling.NewEngine(
		schedulingRepo, conversationRepo, mailer, nil, log.Logger)

	workQueue := queue.New(queueRepo, conversationEngine.HandleInbound, queueConfig(), log.Logger)

	sweeper := conversation.NewSweeper(
		conversationRepo,
		envDuration("IDLE_SWEEP_INTERVAL", time.Minute),
		envDuration("IDLE_AFTER", 30*time.Minute),
		log.Logger)

	var dlMonitor *queue.Monitor
	if emailService != nil {
		dlMonitor = queue.NewMonitor(queueRepo, emailService,
			envDuration("DEAD_LETTER_ALERT_INTERVAL", 15*time.Minute), log.Logger)
	}

	normalizer := webhook.NewNormalizer(userRepo, log.Logger)
	dedup := webhook.NewStoreDedup(conversationRepo, queueRepo)
	webhookHandler := webhook.NewHandler(
		os.Getenv("WEBHOOK_VERIFY_TOKEN"),
		os.Getenv("WEBHOOK_APP_SECRET"),
		normalizer, dedup, workQueue, log.Logger)

	return &Services{
		DB:                 db,
		AuthService:        authService,
		UserRepo:           userRepo,
		ConversationRepo:   conversationRepo,
		SchedulingRepo:     schedulingRepo,
		QueueRepo:          queueRepo,
		EmailService:       emailService,
		Responder:          responder,
		WhatsAppClient:     whatsappClient,
		ConversationEngine: conversationEngine,
		SchedulingEngine:   schedulingEngine,
		Queue:              workQueue,
		Sweeper:            sweeper,
		DeadLetterMonitor:  dlMonitor,
		WebhookHandler:     webhookHandler,
	}
}

// AttachNotifiers wires the portal event push into both engines. Called from
// main once the websocket hub exists.
func (s *Services) AttachNotifiers(conv conversation.Notifier, sched scheduling.Notifier) {
	s.ConversationEngine.SetNotifier(conv)
	s.SchedulingEngine.SetNotifier(sched)
}

func queueConfig() queue.Config {
	cfg := queue.Config{}
	if v, err := strconv.Atoi(os.Getenv("QUEUE_WORKERS")); err == nil {
		cfg.Workers = v
	}
	if v, err := strconv.Atoi(os.Getenv("QUEUE_MAX_ATTEMPTS")); err == nil {
		cfg.MaxAttempts = v
	}
	if v, err := strconv.ParseInt(os.Getenv("QUEUE_SHED_THRESHOLD"), 10, 64); err == nil {
		cfg.ShedThreshold = v
	}
	return cfg
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return fallback
}
