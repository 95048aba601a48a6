package service

import "sync"

// ServiceFactory creates and manages service instances
type ServiceFactory struct {
	deps *Dependencies

	mu            sync.Mutex
	auth          *AuthService
	agents        *AgentService
	feed          *FeedService
	posts         *PostService
	social        *SocialService
	notifications *NotificationService
	search        *SearchService
}

// NewServiceFactory creates a new service factory
func NewServiceFactory(deps *Dependencies) *ServiceFactory {
	return &ServiceFactory{deps: deps}
}

// AuthService returns the auth service instance (singleton)
func (f *ServiceFactory) AuthService() *AuthService {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.auth == nil {
		f.auth = NewAuthService(f.deps)
	}
	return f.auth
}

func (f *ServiceFactory) AgentService() *AgentService {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.agents == nil {
		f.agents = NewAgentService(f.deps)
	}
	return f.agents
}

func (f *ServiceFactory) FeedService() *FeedService {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.feed == nil {
		f.feed = NewFeedService(f.deps)
	}
	return f.feed
}

func (f *ServiceFactory) PostService() *PostService {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.posts == nil {
		f.posts = NewPostService(f.deps)
	}
	return f.posts
}

func (f *ServiceFactory) SocialService() *SocialService {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.social == nil {
		f.social = NewSocialService(f.deps)
	}
	return f.social
}

func (f *ServiceFactory) NotificationService() *NotificationService {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.notifications == nil {
		f.notifications = NewNotificationService(f.deps)
	}
	return f.notifications
}

func (f *ServiceFactory) SearchService() *SearchService {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.search == nil {
		f.search = NewSearchService(f.deps)
	}
	return f.search
}
