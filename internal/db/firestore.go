package db

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"firesync/internal/config"
)

// Clients bundles the Firebase clients built from one app.
// Firestore is nil when the memory backend is configured.
type Clients struct {
	Firestore *firestore.Client
	Auth      *auth.Client
}

// Close releases the Firestore connection, if any.
func (c *Clients) Close() error {
	if c == nil || c.Firestore == nil {
		return nil
	}
	return c.Firestore.Close()
}

// InitFirebase initializes the Firebase Admin SDK from appConfig and returns
// the clients the server needs.
func InitFirebase(ctx context.Context, appConfig *config.Config, logger *zap.Logger) (*Clients, error) {
	if appConfig == nil {
		return nil, fmt.Errorf("InitFirebase: appConfig cannot be nil")
	}

	var opts []option.ClientOption
	switch {
	case appConfig.GoogleApplicationCredentials != "":
		logger.Info("Initializing Firebase with credentials file", zap.String("path", appConfig.GoogleApplicationCredentials))
		if _, err := os.Stat(appConfig.GoogleApplicationCredentials); os.IsNotExist(err) {
			logger.Warn("Credentials file does not exist, falling back on ambient credentials",
				zap.String("path", appConfig.GoogleApplicationCredentials))
		}
		opts = append(opts, option.WithCredentialsFile(appConfig.GoogleApplicationCredentials))
	case appConfig.FirebaseServiceAccountJSONBase64 != "":
		logger.Info("Initializing Firebase with Base64 encoded service account JSON")
		decodedJSON, err := base64.StdEncoding.DecodeString(appConfig.FirebaseServiceAccountJSONBase64)
		if err != nil {
			return nil, fmt.Errorf("failed to decode FirebaseServiceAccountJSONBase64: %w", err)
		}
		opts = append(opts, option.WithCredentialsJSON(decodedJSON))
	default:
		logger.Info("Initializing Firebase using Application Default Credentials (ADC)")
	}

	var firebaseAppConfig *firebase.Config
	if appConfig.FirebaseProjectID != "" {
		firebaseAppConfig = &firebase.Config{ProjectID: appConfig.FirebaseProjectID}
	}

	app, err := firebase.NewApp(ctx, firebaseAppConfig, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase.NewApp: %w", err)
	}

	clients := &Clients{}
	if appConfig.Backend == config.BackendFirestore {
		databaseID := appConfig.FirestoreDatabaseID
		if databaseID == "" {
			databaseID = firestore.DefaultDatabaseID
		}
		fs, err := firestore.NewClientWithDatabase(ctx, appConfig.FirebaseProjectID, databaseID, opts...)
		if err != nil {
			return nil, fmt.Errorf("firestore.NewClientWithDatabase: %w", err)
		}
		clients.Firestore = fs
		logger.Info("Firestore client initialized", zap.String("database", databaseID))
	}

	if !appConfig.AuthDisabled {
		authCl, err := app.Auth(ctx)
		if err != nil {
			_ = clients.Close()
			return nil, fmt.Errorf("app.Auth: %w", err)
		}
		clients.Auth = authCl
		logger.Info("Firebase Auth client initialized")
	}

	return clients, nil
}
