package database

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"github.com/sakauchipilates-dotcom/ShapeNote-sub001/internal/config"
	"github.com/sakauchipilates-dotcom/ShapeNote-sub001/pkg/logging"
)

var (
	FirebaseApp     *firebase.App
	FirestoreClient *firestore.Client
	AuthClient      *auth.Client
)

// InitFirebase initializes the Firebase app, Firestore client and Auth
// client from FIREBASE_CREDENTIALS. Returns false without error when no
// credentials are configured; the caller falls back to the in-memory store.
func InitFirebase(ctx context.Context) (bool, error) {
	credFile := config.AppConfig.FirebaseCredentials
	if credFile == "" {
		logging.Warnf("FIREBASE_CREDENTIALS not set, Firestore and Firebase Auth disabled")
		return false, nil
	}

	conf := &firebase.Config{
		ProjectID: config.AppConfig.FirebaseProjectID,
	}

	app, err := firebase.NewApp(ctx, conf, option.WithCredentialsFile(credFile))
	if err != nil {
		return false, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}
	FirebaseApp = app

	fsClient, err := app.Firestore(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to initialize Firestore client: %w", err)
	}
	FirestoreClient = fsClient

	authClient, err := app.Auth(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to initialize Firebase Auth client: %w", err)
	}
	AuthClient = authClient

	logging.Infof("Firebase initialized successfully")
	return true, nil
}

// UserEmail looks up a user's email address via Firebase Auth.
func UserEmail(ctx context.Context, userID string) (string, error) {
	if AuthClient == nil {
		return "", fmt.Errorf("firebase auth not initialized")
	}
	user, err := AuthClient.GetUser(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("failed to look up user %s: %w", userID, err)
	}
	return user.Email, nil
}

// CloseFirebase closes the Firestore client
func CloseFirebase() {
	if FirestoreClient != nil {
		if err := FirestoreClient.Close(); err != nil {
			logging.Errorf("Failed to close Firestore client: %v", err)
		}
	}
}
