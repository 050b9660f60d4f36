package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"lernia.org/internal/access"
	"lernia.org/internal/audit"
	"lernia.org/internal/department"
	"lernia.org/internal/escalation"
	"lernia.org/internal/httpapi"
	"lernia.org/internal/obs"
	"lernia.org/internal/store/pg"
)

var version = "0.3.1"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("LERNIA_COMMIT"))

	ctx := context.Background()

	// Storage: Postgres when a DSN is configured, in-memory otherwise.
	// The in-memory path is seeded so a fresh process is immediately usable.
	var (
		accessStore access.Store
		deptStore   department.Store
		currentDept department.CurrentStore
		sessions    escalation.SessionStore
		credentials escalation.CredentialStore
		pgStore     *pg.Store
	)
	if dsn := os.Getenv("LERNIA_PG_DSN"); dsn != "" {
		var err error
		pgStore, err = pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		accessStore = pgStore
		deptStore = pgStore
		currentDept = pgStore
		sessions = pgStore
		credentials = pgStore
	} else {
		mem := access.NewInMemory()
		if err := access.Seed(ctx, mem); err != nil {
			log.Fatalf("seed access catalog: %v", err)
		}
		depts := department.NewInMemory()
		if _, err := department.SeedMaster(ctx, depts); err != nil {
			log.Fatalf("seed master department: %v", err)
		}
		accessStore = mem
		deptStore = depts
		currentDept = department.NewInMemoryCurrent()
		sessions = escalation.NewInMemorySessions()
		credentials = escalation.NewInMemoryCredentials()
	}

	catalog, err := access.NewCatalog(accessStore)
	if err != nil {
		log.Fatalf("catalog: %v", err)
	}
	registry, err := access.NewRegistry(accessStore)
	if err != nil {
		log.Fatalf("registry: %v", err)
	}
	resolver, err := access.NewResolver(accessStore)
	if err != nil {
		log.Fatalf("resolver: %v", err)
	}

	var escOpts []escalation.Option
	if raw := os.Getenv("LERNIA_ESCALATION_TTL"); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil {
			log.Fatalf("parse LERNIA_ESCALATION_TTL: %v", err)
		}
		escOpts = append(escOpts, escalation.WithTTL(ttl))
	}
	manager := escalation.NewManager(sessions, credentials, resolver, escOpts...)

	if err := bootstrapAdmin(ctx, registry, deptStore, manager); err != nil {
		log.Fatalf("bootstrap admin: %v", err)
	}

	gate := department.NewGate(deptStore, currentDept, resolver)
	deptAdmin := department.NewAdmin(deptStore, accessStore)

	stream := audit.NewStream()
	audit.SetStream(stream)

	ready := httpapi.ReadyProbe{}
	if pgStore != nil {
		ready.DB = pgStore.DB()
	}

	api := httpapi.New(httpapi.Config{
		Catalog:     catalog,
		Registry:    registry,
		Resolver:    resolver,
		Gate:        gate,
		Departments: deptAdmin,
		Escalation:  manager,
		Stream:      stream,
		Ready:       ready,
		Version:     version,
	})

	addr := os.Getenv("LERNIA_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting lernia-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	// Optional gRPC health endpoint for orchestrator probes.
	var grpcSrv *grpc.Server
	if grpcAddr := os.Getenv("LERNIA_GRPC_ADDR"); grpcAddr != "" {
		lis, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			log.Fatalf("grpc listen: %v", err)
		}
		gs, hs := httpapi.NewGRPCServer(ready)
		httpapi.UpdateGRPCHealth(ctx, ready, hs)
		grpcSrv = gs
		go func() {
			if err := gs.Serve(lis); err != nil {
				log.Fatalf("grpc serve: %v", err)
			}
		}()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	if pgStore != nil {
		_ = pgStore.Close()
	}
	log.Println("Stopped")
}

// bootstrapAdmin provisions the first escalation-capable operator from
// the environment: LERNIA_ADMIN_CREDENTIAL stores a bcrypt credential
// for LERNIA_ADMIN_USER (default "root") and grants that user the
// system-admin role in the Master root. Without it, a fresh deployment
// has no way to open an escalation session.
func bootstrapAdmin(ctx context.Context, registry *access.Registry, depts department.Store, manager *escalation.Manager) error {
	credential := os.Getenv("LERNIA_ADMIN_CREDENTIAL")
	if credential == "" {
		return nil
	}
	userID := os.Getenv("LERNIA_ADMIN_USER")
	if userID == "" {
		userID = "root"
	}
	master, err := depts.GetByCode(ctx, department.MasterCode)
	if err != nil {
		return err
	}
	if _, err := registry.AssignMembership(ctx, access.Membership{
		UserID:       userID,
		UserType:     access.UserTypeAdmin,
		DepartmentID: master.ID,
		Roles:        []string{access.SystemAdminRole},
	}); err != nil {
		return err
	}
	return manager.SetCredential(ctx, userID, credential)
}
